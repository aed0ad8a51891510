// Command keygen prints a fresh base64 encoded AES-256 key for
// WALLETD_KEY_CIPHER.
package main

import (
	"fmt"
	"log"

	"FlowWallet-Chain/internal/security"
)

func main() {
	key, err := security.GenerateKey()
	if err != nil {
		log.Fatalf("生成密钥失败: %v", err)
	}
	fmt.Println(key)
}
