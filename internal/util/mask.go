package util

// MaskSecret acorta un valor sensible para logs: nunca se loguea una
// credencial entera, pero los extremos alcanzan para reconocerla.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 6:
		return "***"
	default:
		return s[:2] + "…" + s[len(s)-2:]
	}
}
