package services

import (
	"testing"

	"github.com/dashbot/godash/internal/domain"
)

func TestInvalidationCoordinator_RuleTable(t *testing.T) {
	c := NewInvalidationCoordinator()

	cases := []struct {
		mutation domain.MutationKind
		expected []domain.ResourceKind
	}{
		// 下单影响订单、余额（冻结）与订单簿；成交面板靠常规轮询
		{domain.MutationPlaceOrder, []domain.ResourceKind{domain.ResourceOrders, domain.ResourceBalances, domain.ResourceOrderBook}},
		{domain.MutationCancelOrder, []domain.ResourceKind{domain.ResourceOrders, domain.ResourceBalances}},
		{domain.MutationDeposit, []domain.ResourceKind{domain.ResourceBalances}},
	}

	for _, tc := range cases {
		got := c.ResourcesAffectedBy(tc.mutation)
		if len(got) != len(tc.expected) {
			t.Fatalf("%s: expected %v, got %v", tc.mutation, tc.expected, got)
		}
		for i := range got {
			if got[i] != tc.expected[i] {
				t.Fatalf("%s: expected %v, got %v", tc.mutation, tc.expected, got)
			}
		}
	}
}

func TestInvalidationCoordinator_UnknownMutation(t *testing.T) {
	c := NewInvalidationCoordinator()
	if got := c.ResourcesAffectedBy("split_order"); got != nil {
		t.Fatalf("expected nil for unknown mutation, got %v", got)
	}
}

func TestInvalidationCoordinator_ReturnsCopy(t *testing.T) {
	c := NewInvalidationCoordinator()
	first := c.ResourcesAffectedBy(domain.MutationDeposit)
	first[0] = domain.ResourceTrades // 调用方改写不应污染规则表

	second := c.ResourcesAffectedBy(domain.MutationDeposit)
	if second[0] != domain.ResourceBalances {
		t.Fatalf("rule table mutated through returned slice: %v", second)
	}
}
