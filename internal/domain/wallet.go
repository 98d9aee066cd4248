package domain

// User 用户（一次性引导创建，之后只保留 ID）
type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

// WalletBalance 钱包余额
//
// Balance 为十进制字符串，原样透传，不做浮点转换。
type WalletBalance struct {
	WalletID int64  `json:"walletId"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

// 支持的币种
const (
	CurrencyUSDT = "USDT"
	CurrencyBTC  = "BTC"
	CurrencyETH  = "ETH"
)

// ValidCurrency 检查币种是否受支持
func ValidCurrency(c string) bool {
	switch c {
	case CurrencyUSDT, CurrencyBTC, CurrencyETH:
		return true
	}
	return false
}
