package ctap2

import "tokencore/flashfs"

// Blob names the attestation key material is stored under. The core never
// interprets these bytes; this package only stores them in flash-FS.
const (
	attestationKeyBlob  = "fido-attestation-key"
	attestationCertBlob = "fido-attestation-cert"
)

// KeyStore is the seam the admin applet's WRITE_FIDO_PRIVATE_KEY and
// WRITE_FIDO_CERT instructions delegate to. It treats attestation key
// material as an opaque blob; no crypto primitive lives in this package.
type KeyStore struct {
	fs flashfs.FS
}

// NewKeyStore wires a key store over a flash-FS.
func NewKeyStore(fs flashfs.FS) *KeyStore {
	return &KeyStore{fs: fs}
}

// InstallPrivateKey persists opaque attestation private key material.
func (k *KeyStore) InstallPrivateKey(data []byte) error {
	return k.fs.Write(attestationKeyBlob, 0, data, true)
}

// InstallCert persists the opaque attestation certificate.
func (k *KeyStore) InstallCert(data []byte) error {
	return k.fs.Write(attestationCertBlob, 0, data, true)
}

// HasPrivateKey reports whether provisioning already ran.
func (k *KeyStore) HasPrivateKey() bool {
	_, err := k.fs.Size(attestationKeyBlob)
	return err == nil
}
