/*
Package commitment reconstructs fee note commitments.

A fee note binds (mint, amount, blinder, receiver). Its commitment is

	keccak256(tag || mint || amount || blinder || receiver) mod r

where r is the BN254 scalar field order, mint and receiver are 20 byte addresses and
amount and blinder are 32 byte big-endian words. The amount is the decimal fee value
scaled by 10^AmountDecimals; it must be integral at that scale.

Opening a note is pure: it never touches the network. The on-chain commitments that an
opening is checked against are fetched by the caller and passed in.
*/
package commitment
