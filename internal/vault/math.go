package vault

import (
	"github.com/holiman/uint256"

	"github.com/CptDat9/loomix-vault-factory/internal/model"
)

// PriceScale is the fixed-point unit PricePerShare is expressed in.
var PriceScale = *uint256.NewInt(1_000_000_000_000_000_000)

var maxBps = *uint256.NewInt(model.MaxBps)

func add(x, y uint256.Int) uint256.Int {
	var z uint256.Int
	z.Add(&x, &y)
	return z
}

func addChecked(x, y uint256.Int) (uint256.Int, bool) {
	var z uint256.Int
	_, overflow := z.AddOverflow(&x, &y)
	return z, overflow
}

// sub returns x-y. Callers guarantee y <= x.
func sub(x, y uint256.Int) uint256.Int {
	var z uint256.Int
	z.Sub(&x, &y)
	return z
}

// subFloor returns x-y, or zero when y > x.
func subFloor(x, y uint256.Int) uint256.Int {
	if y.Gt(&x) {
		return uint256.Int{}
	}
	return sub(x, y)
}

func minAmount(x, y uint256.Int) uint256.Int {
	if y.Lt(&x) {
		return y
	}
	return x
}

// mulDiv returns floor(x*y/d) using a 512-bit intermediate. d must be non-zero.
func mulDiv(x, y, d uint256.Int) (uint256.Int, bool) {
	var z uint256.Int
	_, overflow := z.MulDivOverflow(&x, &y, &d)
	return z, overflow
}

// bpsOf returns floor(x*bps/10000).
func bpsOf(x uint256.Int, bps uint64) uint256.Int {
	z, _ := mulDiv(x, *uint256.NewInt(bps), maxBps)
	return z
}

func fromUint64(v uint64) uint256.Int { return *uint256.NewInt(v) }
