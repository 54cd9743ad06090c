package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	// ErrTransient 网络、限频、5xx 等可重试错误。
	ErrTransient = errors.New("transient venue error")
	// ErrRejected 交易所业务拒绝（保证金不足、数量非法等），对该计划是终态。
	ErrRejected = errors.New("order rejected by venue")
	// ErrFatal 凭证失效等致命错误，trader 进入 halted。
	ErrFatal = errors.New("fatal venue error")

	ErrInvalidSize = fmt.Errorf("%w: invalid order size", ErrRejected)
	ErrNoPosition  = fmt.Errorf("%w: no position to close", ErrRejected)
	// ErrDuplicate 表示相同 ClientID 的订单已被接受，重试时视为成功。
	ErrDuplicate = errors.New("duplicate client order id")
)

// Error 携带交易所原始错误码，并归入上面的某一类。
type Error struct {
	Class error
	Venue string
	Code  int64
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %v (code=%d): %s", e.Venue, e.Class, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s: %v: %s", e.Venue, e.Class, e.Msg)
}

func (e *Error) Is(target error) bool {
	return target == e.Class || errors.Is(e.Class, target)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(class error, venue string, code int64, msg string, cause error) *Error {
	return &Error{Class: class, Venue: venue, Code: code, Msg: msg, Cause: cause}
}

// Classify 把未分类的底层错误归类：网络与超时类视为可重试，其它保持原样。
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrRejected) ||
		errors.Is(err, ErrFatal) || errors.Is(err, ErrDuplicate) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

func IsFatal(err error) bool { return errors.Is(err, ErrFatal) }
