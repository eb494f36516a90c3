package schema

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	emailRe     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	dateRe      = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	timeRe      = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`)
	dateTimeRe  = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})[Tt](\d{2}):(\d{2}):(\d{2})(\.\d+)?([Zz]|[+-]\d{2}:\d{2})$`)
	durationRe  = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$|^P\d+W$`)
	hostLabelRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
	uuidRe      = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[1-5][0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	badTildeRe  = regexp.MustCompile(`~([^01]|$)`)
)

// ValidFormat checks value against a named string format. Unknown
// formats pass, matching JSON Schema's annotation-by-default stance.
func ValidFormat(format, value string) bool {
	switch format {
	case "email", "idn-email":
		return emailRe.MatchString(value)

	case "date":
		m := dateRe.FindStringSubmatch(value)
		if m == nil {
			return false
		}
		_, err := time.Parse("2006-01-02", value)
		return err == nil

	case "time":
		m := timeRe.FindStringSubmatch(value)
		if m == nil {
			return false
		}
		h, _ := strconv.Atoi(m[1])
		mn, _ := strconv.Atoi(m[2])
		sec, _ := strconv.Atoi(m[3])
		return h <= 23 && mn <= 59 && sec <= 60

	case "date-time":
		m := dateTimeRe.FindStringSubmatch(value)
		if m == nil {
			return false
		}
		normalized := strings.ReplaceAll(strings.ReplaceAll(value, "z", "Z"), "t", "T")
		_, err := time.Parse(time.RFC3339, normalized)
		return err == nil

	case "duration":
		if value == "P" || value == "PT" {
			return false
		}
		return durationRe.MatchString(value)

	case "uri", "iri":
		u, err := url.Parse(value)
		return err == nil && u.Scheme != ""

	case "uri-reference", "iri-reference":
		if value == "" || strings.HasPrefix(value, "/") ||
			strings.HasPrefix(value, "#") || strings.HasPrefix(value, "?") {
			return true
		}
		_, err := url.Parse(value)
		return err == nil

	case "hostname", "idn-hostname":
		if len(value) > 253 {
			return false
		}
		for _, label := range strings.Split(value, ".") {
			if len(label) == 0 || len(label) > 63 {
				return false
			}
			if format == "hostname" && !hostLabelRe.MatchString(label) {
				return false
			}
			if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
				return false
			}
		}
		return true

	case "ipv4":
		parts := strings.Split(value, ".")
		if len(parts) != 4 {
			return false
		}
		for _, part := range parts {
			if len(part) == 0 || len(part) > 3 {
				return false
			}
			if len(part) > 1 && part[0] == '0' {
				return false
			}
			n, err := strconv.Atoi(part)
			if err != nil || n > 255 {
				return false
			}
		}
		return true

	case "ipv6":
		ip := net.ParseIP(value)
		return ip != nil && strings.Contains(value, ":")

	case "uuid":
		return uuidRe.MatchString(value)

	case "json-pointer":
		if value == "" {
			return true
		}
		if !strings.HasPrefix(value, "/") {
			return false
		}
		return !badTildeRe.MatchString(value)

	case "regex":
		_, err := regexp.Compile(value)
		return err == nil

	default:
		return true
	}
}
