package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AssetDecimals 是结算资产（USDC）的小数位数。
const AssetDecimals = 6

// Amount 以结算资产的最小单位表示金额，1 USD = 1_000_000。
type Amount int64

// AmountFromUSD 将美元金额转换为最小单位，四舍五入到 1e-6。
func AmountFromUSD(usd float64) (Amount, error) {
	if math.IsNaN(usd) || math.IsInf(usd, 0) || usd < 0 {
		return 0, fmt.Errorf("非法金额: %v", usd)
	}
	return Amount(math.Round(usd * math.Pow10(AssetDecimals))), nil
}

// Mul 返回 a*n。
func (a Amount) Mul(n int) Amount {
	return a * Amount(n)
}

// Atomic 返回最小单位的十进制字符串，x402 的 maxAmountRequired 使用该格式。
func (a Amount) Atomic() string {
	return strconv.FormatInt(int64(a), 10)
}

// USD 返回形如 "0.001" 的美元字符串，去掉多余的尾零。
func (a Amount) USD() string {
	negative := a < 0
	v := int64(a)
	if negative {
		v = -v
	}
	whole := v / 1_000_000
	frac := v % 1_000_000
	s := strconv.FormatInt(whole, 10)
	if frac != 0 {
		s += "." + strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	}
	if negative {
		s = "-" + s
	}
	return s
}

// String 实现 fmt.Stringer。
func (a Amount) String() string {
	return "$" + a.USD()
}
