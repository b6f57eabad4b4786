package token

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	metadataPrefix  = []byte("token/meta/")
	supplyPrefix    = []byte("token/supply/")
	balancePrefix   = []byte("token/balance/")
	allowancePrefix = []byte("token/allowance/")
)

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func metadataKey(symbol string) []byte {
	return hashedKey(metadataPrefix, []byte(normalizeSymbol(symbol)))
}

func supplyKey(symbol string) []byte {
	return hashedKey(supplyPrefix, []byte(normalizeSymbol(symbol)))
}

func balanceKey(symbol string, holder [20]byte) []byte {
	suffix := make([]byte, 0, len(symbol)+1+len(holder))
	suffix = append(suffix, normalizeSymbol(symbol)...)
	suffix = append(suffix, '/')
	suffix = append(suffix, holder[:]...)
	return hashedKey(balancePrefix, suffix)
}

func allowanceKey(symbol string, owner, spender [20]byte) []byte {
	suffix := make([]byte, 0, len(symbol)+1+len(owner)+len(spender))
	suffix = append(suffix, normalizeSymbol(symbol)...)
	suffix = append(suffix, '/')
	suffix = append(suffix, owner[:]...)
	suffix = append(suffix, spender[:]...)
	return hashedKey(allowancePrefix, suffix)
}

func hashedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(suffix))
	buf = append(buf, prefix...)
	buf = append(buf, suffix...)
	return ethcrypto.Keccak256(buf)
}
