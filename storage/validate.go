package storage

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 10

func isUsernameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '.' || r == '_' || r == '-'
}

// NormalizeUsername retorna a forma canônica (minúscula) de um nome de usuário
func NormalizeUsername(username string) string {
	return strings.ToLower(username)
}

// ValidateUsername verifica que o nome contém apenas alfanuméricos, '.', '_' ou '-'
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("%w: nome vazio", ErrInvalidUsername)
	}

	for _, r := range username {
		if !isUsernameRune(r) {
			return fmt.Errorf("%w: caractere %q não permitido", ErrInvalidUsername, r)
		}
	}

	// "." e ".." designariam diretórios existentes
	if strings.Trim(username, ".") == "" {
		return fmt.Errorf("%w: nome reservado", ErrInvalidUsername)
	}

	return nil
}

// ValidatePassword verifica a política de senha: ao menos 10 caracteres,
// uma minúscula, uma maiúscula e um dígito
func ValidatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return fmt.Errorf("%w: menos de %d caracteres", ErrWeakPassword, minPasswordLength)
	}

	var lower, upper, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	if !lower || !upper || !digit {
		return fmt.Errorf("%w: é preciso ao menos uma minúscula, uma maiúscula e um dígito", ErrWeakPassword)
	}

	return nil
}

// prehash reduz a senha a 44 bytes, abaixo do limite de 72 bytes do bcrypt
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// HashPassword gera o hash salgado de uma senha
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("falha ao gerar hash da senha: %w", err)
	}

	return string(hash), nil
}

// CheckPassword compara uma senha ao hash armazenado em tempo constante
func CheckPassword(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(hash)), prehash(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrBadPassword
	}
	if err != nil {
		return fmt.Errorf("falha ao verificar senha: %w", err)
	}

	return nil
}
