package ldap

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

var (
	utf16le   = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	pwdQuotes = []byte{'"', 0}
)

// DecodeUnicodePwd decodes a unicodePwd attribute value: the password in
// double quotes, encoded as UTF-16LE.
func DecodeUnicodePwd(value []byte) (string, error) {
	if len(value)%2 != 0 {
		return "", fmt.Errorf("unicodePwd: odd byte length %d", len(value))
	}

	if len(value) >= 4 && bytes.HasPrefix(value, pwdQuotes) && bytes.HasSuffix(value, pwdQuotes) {
		value = value[2 : len(value)-2]
	}

	out, err := utf16le.NewDecoder().Bytes(value)
	if err != nil {
		return "", fmt.Errorf("unicodePwd: %w", err)
	}

	return string(out), nil
}

// EncodeUnicodePwd produces the unicodePwd value for password.
func EncodeUnicodePwd(password string) ([]byte, error) {
	out, err := utf16le.NewEncoder().Bytes([]byte(`"` + password + `"`))
	if err != nil {
		return nil, fmt.Errorf("unicodePwd: %w", err)
	}
	return out, nil
}
