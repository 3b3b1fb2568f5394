package domain

// Table name constraints.
const (
	MinTableNameLength = 3
	MaxTableNameLength = 63
)

// ValidateTableName checks a table name against the naming rule:
// 3-63 characters, lowercase a-z, 0-9 and dash, with no leading,
// trailing or consecutive dashes.
func ValidateTableName(name string) error {
	if len(name) < MinTableNameLength {
		return ErrInvalidTableName.WithDetails("shorter than 3 characters")
	}
	if len(name) > MaxTableNameLength {
		return ErrInvalidTableName.WithDetails("longer than 63 characters")
	}
	if name[0] == '-' || name[len(name)-1] == '-' {
		return ErrInvalidTableName.WithDetails("leading or trailing dash")
	}

	prevDash := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevDash = false
		case c == '-':
			if prevDash {
				return ErrInvalidTableName.WithDetails("consecutive dashes")
			}
			prevDash = true
		default:
			return ErrInvalidTableName.WithDetails("character not in [a-z0-9-]")
		}
	}
	return nil
}
