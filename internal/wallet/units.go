package wallet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "FlowWallet-Chain/internal/errors"
)

// ToMinorUnits converts a decimal amount such as "1.5" or "2e-3" into the
// integer minor units of a currency with the given decimals. Amounts that
// would need rounding are rejected.
func ToMinorUnits(amount string, decimals uint8) (*big.Int, error) {
	r, err := parseRat(amount)
	if err != nil {
		return nil, err
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("amount %s has more than %d decimal places", amount, decimals))
	}
	return new(big.Int).Set(r.Num()), nil
}

// ParseValue reads a minor-unit value written as hex ("0x3e8"), decimal
// ("1000") or scientific notation ("1e3"). Empty input is zero.
func ParseValue(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok || v.Sign() < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid hex value "+s)
		}
		return v, nil
	}
	r, err := parseRat(s)
	if err != nil {
		return nil, err
	}
	if !r.IsInt() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "value "+s+" is not an integer")
	}
	return new(big.Int).Set(r.Num()), nil
}

// FromMinorUnits converts minor units back to whole units.
func FromMinorUnits(v *big.Int, decimals uint8) *big.Float {
	if v == nil {
		return new(big.Float)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Float).SetPrec(256).Quo(
		new(big.Float).SetPrec(256).SetInt(v),
		new(big.Float).SetPrec(256).SetInt(scale),
	)
}

// FormatUnits renders minor units as an exact decimal string without
// trailing zeros.
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	s := new(big.Rat).SetFrac(v, scale).FloatString(int(decimals))
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// ParseAddress accepts a hex address in lower, upper or valid checksum case.
// Mixed case that fails the EIP-55 checksum is rejected.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid address %q", s))
	}
	addr := common.HexToAddress(s)
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && "0x"+body != addr.Hex() {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("address %q has an invalid checksum", s))
	}
	return addr, nil
}

func parseRat(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "/") {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid amount %q", s))
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("invalid amount %q", s))
	}
	if r.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("amount %q is negative", s))
	}
	return r, nil
}
