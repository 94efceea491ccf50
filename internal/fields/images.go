package fields

import (
	"fmt"
	"net/http"

	"bizdir/pkg/domain"
)

// ImagePolicy bounds uploaded image files.
type ImagePolicy struct {
	MaxBytes     int64
	AllowedTypes []string
	MaxImages    int
	MaxProducts  int
}

// DefaultImagePolicy allows jpeg, png, webp and gif files up to 5 MiB, five
// business images and twenty products per record.
func DefaultImagePolicy() ImagePolicy {
	return ImagePolicy{
		MaxBytes:     5 << 20,
		AllowedTypes: []string{"image/jpeg", "image/png", "image/webp", "image/gif"},
		MaxImages:    5,
		MaxProducts:  20,
	}
}

// ContentType returns the declared type, sniffing the payload when absent.
func ContentType(f domain.UploadFile) string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return http.DetectContentType(f.Data)
}

// Check validates a single file against the policy.
func (p ImagePolicy) Check(f domain.UploadFile) error {
	if f.Size() == 0 {
		return fmt.Errorf("%s is empty", f.Name)
	}
	if p.MaxBytes > 0 && f.Size() > p.MaxBytes {
		return fmt.Errorf("%s is %d bytes, limit is %d", f.Name, f.Size(), p.MaxBytes)
	}
	ct := ContentType(f)
	for _, allowed := range p.AllowedTypes {
		if ct == allowed {
			return nil
		}
	}
	return fmt.Errorf("%s has unsupported type %s", f.Name, ct)
}
