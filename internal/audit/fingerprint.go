package audit

import (
	"encoding/hex"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/xela07ax/spaceai-tool-guard/internal/payload"
	"golang.org/x/crypto/blake2b"
)

// FingerprintLen: длина отпечатка в hex-символах
const FingerprintLen = 16

// Fingerprint: короткий детерминированный отпечаток параметров вызова для
// корреляции событий и спанов. Уникальность не гарантируется.
// JSON канонизируется по RFC 8785, так что порядок ключей на отпечаток не влияет.
func Fingerprint(params any) string {
	data, err := payload.Marshal(params)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", params))
	} else if canonical, err := jcs.Transform(data); err == nil {
		data = canonical
	}

	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])[:FingerprintLen]
}
