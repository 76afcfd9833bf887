package variant

import "github.com/pkg/errors"

// ErrMissingEncryptedData marks a value flagged as encrypted without a payload
var ErrMissingEncryptedData = errors.New("variant: encrypted value without encrypted data")

// FieldValue is a named value of a metadata record
type FieldValue struct {
	Name          string
	Value         Variant
	UseEncryption bool
	EncryptedData string
}

// NewFieldValue creates an unencrypted named value
func NewFieldValue(name string, v Variant) FieldValue {
	return FieldValue{Name: name, Value: v}
}

// Validate checks the encryption marker invariant
func (f FieldValue) Validate() error {
	if f.UseEncryption && f.EncryptedData == "" {
		return errors.Wrapf(ErrMissingEncryptedData, "field %q", f.Name)
	}
	return nil
}

// Equal compares name, value and encryption marker
func (f FieldValue) Equal(o FieldValue) bool {
	return f.Name == o.Name &&
		f.UseEncryption == o.UseEncryption &&
		f.EncryptedData == o.EncryptedData &&
		f.Value.Equal(o.Value)
}
