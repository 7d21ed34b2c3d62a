package keyring

import (
	"net/http"

	"github.com/fourks/sockethub/internal/common/apperrors"
)

var (
	ErrKeyring = apperrors.New("keyring error").SetStatusCode(http.StatusInternalServerError)

	// ErrNoKey is returned by Seal, Open and Reveal while no key is held.
	ErrNoKey = ErrKeyring.New("no encryption key held")

	ErrInvalidBlob = ErrKeyring.New("invalid sealed blob")
	ErrDecrypt     = ErrKeyring.New("unable to decrypt sealed blob")
	ErrCipher      = ErrKeyring.New("unable to initialise cipher")
)
