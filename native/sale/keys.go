package sale

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

var (
	commitmentPrefix = []byte("sale/commitment/")
	phasesKey        = ethcrypto.Keccak256([]byte("sale/phases"))
	rolesKey         = ethcrypto.Keccak256([]byte("sale/roles"))
)

func commitmentKey(holder [20]byte) []byte {
	buf := make([]byte, 0, len(commitmentPrefix)+len(holder))
	buf = append(buf, commitmentPrefix...)
	buf = append(buf, holder[:]...)
	return ethcrypto.Keccak256(buf)
}
