package tunnel

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"io"
)

// pkcs1Overhead is the minimum padding overhead of PKCS#1 v1.5 encryption.
const pkcs1Overhead = 11

// EncodeFrame writes one Tunnel frame to w: a big-endian uint64 block count
// followed by that many PKCS#1-v1.5-encrypted blocks, each exactly
// peer.Size() bytes. plaintext is split into chunks of peer.Size()-11 bytes;
// the final chunk may be shorter. An empty plaintext encodes as block_count=0
// with no blocks. The whole frame is written before EncodeFrame returns.
func EncodeFrame(w io.Writer, peer *rsa.PublicKey, plaintext []byte) error {
	blockSize := peer.Size() - pkcs1Overhead
	if blockSize <= 0 {
		return fmt.Errorf("tunnel: peer modulus too small (%d bytes)", peer.Size())
	}

	blockCount := (len(plaintext) + blockSize - 1) / blockSize

	encrypted := make([]byte, 0, blockCount*peer.Size())
	for i := 0; i < blockCount; i++ {
		start := i * blockSize
		end := start + blockSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		block, err := rsa.EncryptPKCS1v15(rand.Reader, peer, plaintext[start:end])
		if err != nil {
			return fmt.Errorf("tunnel: encrypt block %d: %w", i, err)
		}
		encrypted = append(encrypted, block...)
	}

	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(blockCount))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("tunnel: write frame header: %w", err)
	}
	if len(encrypted) > 0 {
		if _, err := w.Write(encrypted); err != nil {
			return fmt.Errorf("tunnel: write frame body: %w", err)
		}
	}
	return nil
}

// DecodeFrame reads one Tunnel frame from r and decrypts it with priv.
func DecodeFrame(r io.Reader, priv *rsa.PrivateKey) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("tunnel: read frame header: %w", err)
	}
	blockCount := binary.BigEndian.Uint64(header[:])

	blockSize := priv.Size()
	plaintext := make([]byte, 0, int(blockCount)*blockSize)
	block := make([]byte, blockSize)
	for i := uint64(0); i < blockCount; i++ {
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, fmt.Errorf("tunnel: read frame block %d: %w", i, err)
		}
		chunk, err := rsa.DecryptPKCS1v15(rand.Reader, priv, block)
		if err != nil {
			return nil, fmt.Errorf("tunnel: decrypt block %d: %w", i, err)
		}
		plaintext = append(plaintext, chunk...)
	}
	return plaintext, nil
}
