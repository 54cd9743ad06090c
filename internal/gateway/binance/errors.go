package binance

import (
	"errors"
	"strings"

	"aitrader/internal/gateway/exchange"

	"github.com/adshao/go-binance/v2/common"
)

const venueKind = "binance"

// 常见错误码：https://developers.binance.com/docs/derivatives/usds-margined-futures/error-code
const (
	codeDisconnected   = -1001
	codeTooManyReq     = -1003
	codeTimeout        = -1007
	codeServerBusy     = -1008
	codeInvalidSig     = -1022
	codeRejectedMBXKey = -2014
	codeInvalidKey     = -2015
	codeNoNeedMargin   = -4046
	codeDupClientID    = -4116
)

// classify 把 SDK 返回的错误映射到 exchange 的错误类别。
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return exchange.Classify(err)
	}
	var class error
	switch apiErr.Code {
	case codeDisconnected, codeTooManyReq, codeTimeout, codeServerBusy:
		class = exchange.ErrTransient
	case codeInvalidSig, codeRejectedMBXKey, codeInvalidKey:
		class = exchange.ErrFatal
	case codeDupClientID:
		class = exchange.ErrDuplicate
	default:
		class = exchange.ErrRejected
		if strings.Contains(strings.ToLower(apiErr.Message), "too many requests") {
			class = exchange.ErrTransient
		}
	}
	return exchange.NewError(class, venueKind, apiErr.Code, op+": "+apiErr.Message, err)
}

func isCode(err error, code int64) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
