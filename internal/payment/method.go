package payment

import (
	"errors"
	"fmt"
	"strings"
)

type Method string

const (
	MethodKhipu  Method = "khipu"
	MethodStripe Method = "stripe"
	MethodPayPal Method = "paypal"
	MethodWebPay Method = "webpay"
)

var (
	ErrMethodNotAllowed  = errors.New("payment method not allowed for maintenance jobs")
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// ParseMethod accepts the digital methods only; cash and check are refused.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodKhipu, MethodStripe, MethodPayPal, MethodWebPay:
		return m, nil
	case "cash", "check", "cheque":
		return "", fmt.Errorf("%w: %s", ErrMethodNotAllowed, m)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
}
