package external

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const darkpoolABIJSON = `[
	{
		"type": "event",
		"name": "NotePosted",
		"anonymous": false,
		"inputs": [
			{"name": "noteCommitment", "type": "uint256", "indexed": true}
		]
	},
	{
		"type": "function",
		"name": "redeemFee",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "mint", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "blinder", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "noteCommitment", "type": "uint256"}
		],
		"outputs": []
	}
]`

const (
	notePostedEvent = "NotePosted"
	redeemFeeMethod = "redeemFee"
)

// DarkpoolABI is the subset of the darkpool interface used for fee redemption.
var DarkpoolABI abi.ABI

func init() {
	var err error
	DarkpoolABI, err = abi.JSON(strings.NewReader(darkpoolABIJSON))
	if err != nil {
		panic(err)
	}
}
