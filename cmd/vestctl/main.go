package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vestvault/crypto"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "generate-key":
		err = generateKey(os.Args[2:])
	case "address":
		err = printAddress(os.Args[2:])
	case "token":
		err = issueTokenCmd(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: vestctl <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  generate-key [-out operator.key]   - Generate an operator key and save it")
	fmt.Println("  address -key operator.key          - Print the address for a saved key")
	fmt.Println("  token -key operator.key -secret-file <path> [-issuer vestd] [-audience vestd] [-ttl 1h]")
	fmt.Println("                                     - Issue a bearer token whose subject is the key's address")
}

func generateKey(args []string) error {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	out := fs.String("out", "operator.key", "path to save the key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*out); err == nil {
		return fmt.Errorf("refusing to overwrite existing key file %s", *out)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(*out, key.Bytes(), 0o600); err != nil {
		return fmt.Errorf("save key to %s: %w", *out, err)
	}
	fmt.Printf("Generated new key and saved to %s\n", *out)
	fmt.Printf("Your operator address is: %s\n", key.PubKey().Address().String())
	fmt.Println("Store this file securely. Tokens issued from it carry this address as the caller identity.")
	return nil
}

func printAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keyFile := fs.String("key", "operator.key", "path to the operator key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadPrivateKey(*keyFile)
	if err != nil {
		return err
	}
	fmt.Println(key.PubKey().Address().String())
	return nil
}

func issueTokenCmd(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	keyFile := fs.String("key", "operator.key", "path to the operator key")
	secretFile := fs.String("secret-file", "", "path to the shared HMAC secret")
	issuer := fs.String("issuer", "vestd", "token issuer claim")
	audience := fs.String("audience", "vestd", "token audience claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secretFile == "" {
		return fmt.Errorf("token requires -secret-file")
	}
	secret, err := os.ReadFile(*secretFile)
	if err != nil {
		return fmt.Errorf("read secret file %s: %w", *secretFile, err)
	}
	key, err := loadPrivateKey(*keyFile)
	if err != nil {
		return err
	}
	token, err := issueToken(key, []byte(strings.TrimSpace(string(secret))), *issuer, *audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// issueToken signs a bearer token whose subject is the address derived from
// key. The daemon decodes the subject back into the caller identity, so the
// key never leaves the operator's machine.
func issueToken(key *crypto.PrivateKey, secret []byte, issuer, audience string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   key.PubKey().Address().String(),
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func loadPrivateKey(path string) (*crypto.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("key file %s not found. run vestctl generate-key first", path)
		}
		return nil, fmt.Errorf("read key file %s: %w", path, err)
	}
	if len(keyBytes) == 0 {
		return nil, fmt.Errorf("key file %s is empty. run vestctl generate-key first", path)
	}
	key, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse key in %s: %w", path, err)
	}
	return key, nil
}
