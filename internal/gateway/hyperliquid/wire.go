package hyperliquid

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 字段顺序参与 msgpack 签名，不能调整。
type limitWire struct {
	Tif string `msgpack:"tif" json:"tif"`
}

type orderTypeWire struct {
	Limit limitWire `msgpack:"limit" json:"limit"`
}

type orderWire struct {
	Asset      int           `msgpack:"a" json:"a"`
	IsBuy      bool          `msgpack:"b" json:"b"`
	LimitPx    string        `msgpack:"p" json:"p"`
	Size       string        `msgpack:"s" json:"s"`
	ReduceOnly bool          `msgpack:"r" json:"r"`
	OrderType  orderTypeWire `msgpack:"t" json:"t"`
	Cloid      string        `msgpack:"c,omitempty" json:"c,omitempty"`
}

type orderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []orderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type cancelWire struct {
	Asset int   `msgpack:"a" json:"a"`
	Oid   int64 `msgpack:"o" json:"o"`
}

type cancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []cancelWire `msgpack:"cancels" json:"cancels"`
}

type updateLeverageAction struct {
	Type     string `msgpack:"type" json:"type"`
	Asset    int    `msgpack:"asset" json:"asset"`
	IsCross  bool   `msgpack:"isCross" json:"isCross"`
	Leverage int    `msgpack:"leverage" json:"leverage"`
}

const (
	maxPerpDecimals = 6
	priceSigFigs    = 5
)

// formatPrice 保留 5 位有效数字，且小数位不超过 6-szDecimals。
func formatPrice(px float64, szDecimals int) string {
	sig, err := decimal.NewFromString(strconv.FormatFloat(px, 'g', priceSigFigs, 64))
	if err != nil {
		sig = decimal.NewFromFloat(px)
	}
	places := int32(maxPerpDecimals - szDecimals)
	if places < 0 {
		places = 0
	}
	return sig.Round(places).String()
}

// formatSize 向下截断到 szDecimals 位。
func formatSize(size float64, szDecimals int) string {
	return decimal.NewFromFloat(size).Truncate(int32(szDecimals)).String()
}

// toCloid 把订单 ID 转成 128 位十六进制 cloid；非 UUID 的 ID 取 keccak 前 16 字节。
func toCloid(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if u, err := uuid.Parse(id); err == nil {
		return "0x" + hex.EncodeToString(u[:])
	}
	return "0x" + hex.EncodeToString(crypto.Keccak256([]byte(id))[:16])
}
