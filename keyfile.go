package pycluster

import (
	"encoding/hex"
	"encoding/json"
	"os"
)

type keyFile struct {
	EncryptionKey string `json:"encryption_key"`
}

// SaveKeyFile writes the session key to path as JSON, hex-encoded.
func SaveKeyFile(path string, key []byte) error {
	data, err := json.Marshal(keyFile{EncryptionKey: hex.EncodeToString(key)})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKeyFile reads a key saved with SaveKeyFile.
func LoadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, err
	}
	return hex.DecodeString(kf.EncryptionKey)
}
