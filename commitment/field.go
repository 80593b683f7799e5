package commitment

import (
	"math/big"
)

// ScalarFieldOrder is the order of the BN254 scalar field that note commitments live in.
var ScalarFieldOrder *big.Int

func init() {
	ScalarFieldOrder, _ = new(big.Int).SetString("21888242871839275222246405745257275088548364400416034343698204186575808495617", 10)
}

// InScalarField reports whether 0 <= x < r.
func InScalarField(x *big.Int) bool {
	return x.Sign() >= 0 && x.Cmp(ScalarFieldOrder) < 0
}

// ReduceToScalar interprets bz as a big-endian integer and reduces it mod r.
func ReduceToScalar(bz []byte) *big.Int {
	x := new(big.Int).SetBytes(bz)
	return x.Mod(x, ScalarFieldOrder)
}
