package bridge

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gnosiskit/go-safe-authenticator/pkg/types"
)

// encryptedPayload is the bridge wire envelope: AES-256-CBC ciphertext with
// an HMAC-SHA256 tag over ciphertext || iv, all hex-encoded.
type encryptedPayload struct {
	Data string `json:"data"`
	HMAC string `json:"hmac"`
	IV   string `json:"iv"`
}

func encryptPayload(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, key)
	mac.Write(ciphertext)
	mac.Write(iv)

	return json.Marshal(encryptedPayload{
		Data: hex.EncodeToString(ciphertext),
		HMAC: hex.EncodeToString(mac.Sum(nil)),
		IV:   hex.EncodeToString(iv),
	})
}

func decryptPayload(key, raw []byte) ([]byte, error) {
	var envelope encryptedPayload
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, types.NewMalformedResponseError("bridge payload: %v", err)
	}
	ciphertext, err := hex.DecodeString(envelope.Data)
	if err != nil {
		return nil, types.NewMalformedResponseError("bridge payload data: %v", err)
	}
	iv, err := hex.DecodeString(envelope.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, types.NewMalformedResponseError("bridge payload iv")
	}
	tag, err := hex.DecodeString(envelope.HMAC)
	if err != nil {
		return nil, types.NewMalformedResponseError("bridge payload hmac: %v", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write(ciphertext)
	mac.Write(iv)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, types.NewMalformedResponseError("bridge payload hmac mismatch")
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, types.NewMalformedResponseError("bridge payload length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return pkcs7Unpad(plaintext, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, types.NewMalformedResponseError("bridge payload padding")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, types.NewMalformedResponseError("bridge payload padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, types.NewMalformedResponseError("bridge payload padding")
		}
	}
	return data[:len(data)-pad], nil
}
