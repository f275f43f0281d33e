package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// cloud189Signature signs an API call with the session secret.
// params is the encrypted query of upload calls, empty otherwise.
func cloud189Signature(secret, sessionKey, method, requestURI, date, params string) string {
	data := fmt.Sprintf("SessionKey=%s&Operate=%s&RequestURI=%s&Date=%s", sessionKey, method, requestURI, date)
	if params != "" {
		data += "&params=" + params
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(data))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// cloud189EncryptParams encrypts an upload query with AES-ECB keyed by the
// first 16 bytes of the session secret.
func cloud189EncryptParams(query, secret string) (string, error) {
	if len(secret) < 16 {
		return "", errors.New("session secret too short")
	}
	block, err := aes.NewCipher([]byte(secret[:16]))
	if err != nil {
		return "", err
	}
	data := pkcs7Pad([]byte(query), block.BlockSize())
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return hex.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// cloud189EncryptCredential RSA-encrypts a login field with the provider's
// published key and returns it in the "{pre}hex" wire form.
func cloud189EncryptCredential(pubKey, pre, value string) (string, error) {
	key, err := parseRSAPublicKey(pubKey)
	if err != nil {
		return "", err
	}
	sealed, err := rsa.EncryptPKCS1v15(rand.Reader, key, []byte(value))
	if err != nil {
		return "", err
	}
	return pre + hex.EncodeToString(sealed), nil
}

func parseRSAPublicKey(raw string) (*rsa.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	var der []byte
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
		der = decoded
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// cloud189SliceMD5 is the whole-upload digest expected by the commit call.
func cloud189SliceMD5(fileMD5 string, partMD5s []string) string {
	if len(partMD5s) <= 1 {
		return fileMD5
	}
	return md5Hex([]byte(strings.Join(partMD5s, "\n")))
}
