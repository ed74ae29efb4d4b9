package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// factoryABI covers the PropertyFactory methods this service calls.
const factoryABI = `[
 {"inputs":[],"name":"getPropertyCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"uint256","name":"_propertyId","type":"uint256"}],"name":"investInProperty","outputs":[],"stateMutability":"payable","type":"function"},
 {"inputs":[{"internalType":"uint256","name":"_propertyId","type":"uint256"}],"name":"getPropertyDetails","outputs":[{"components":[
   {"internalType":"uint256","name":"propertyId","type":"uint256"},
   {"internalType":"address","name":"tokenAddress","type":"address"},
   {"internalType":"string","name":"name","type":"string"},
   {"internalType":"string","name":"symbol","type":"string"},
   {"internalType":"uint256","name":"propertyValue","type":"uint256"},
   {"internalType":"uint256","name":"totalShares","type":"uint256"},
   {"internalType":"uint256","name":"availableShares","type":"uint256"},
   {"internalType":"uint256","name":"minInvestment","type":"uint256"},
   {"internalType":"string","name":"propertyURI","type":"string"},
   {"internalType":"bool","name":"isFundingComplete","type":"bool"},
   {"internalType":"uint256","name":"createdAt","type":"uint256"}
  ],"internalType":"struct PropertyFactory.Property","name":"","type":"tuple"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"uint256","name":"_propertyId","type":"uint256"},{"internalType":"address","name":"_investor","type":"address"}],"name":"getInvestorDetails","outputs":[
   {"internalType":"uint256","name":"investmentAmount","type":"uint256"},
   {"internalType":"uint256","name":"shareCount","type":"uint256"},
   {"internalType":"uint256","name":"ownership","type":"uint256"},
   {"internalType":"uint256","name":"unclaimedIncome","type":"uint256"},
   {"internalType":"uint256","name":"claimedIncome","type":"uint256"}
  ],"stateMutability":"view","type":"function"}
]`

// propertyTuple mirrors PropertyFactory.Property for abi.ConvertType.
type propertyTuple struct {
	PropertyId        *big.Int
	TokenAddress      common.Address
	Name              string
	Symbol            string
	PropertyValue     *big.Int
	TotalShares       *big.Int
	AvailableShares   *big.Int
	MinInvestment     *big.Int
	PropertyURI       string
	IsFundingComplete bool
	CreatedAt         *big.Int
}
