package fields

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"bizdir/pkg/domain"
)

// Human-facing field names.
const (
	FieldName       = "Business Name"
	FieldAddress    = "Address"
	FieldCategory   = "Category"
	FieldLocation   = "Location"
	FieldPhone      = "Phone Number"
	FieldWhatsApp   = "WhatsApp Number"
	FieldEmail      = "Email"
	FieldWebsite    = "Website"
	FieldSocialLink = "Social Media Link"
	FieldMapLink    = "Map Link"
	FieldAbout      = "About"
	FieldHours      = "Operating Hours"
	FieldImages     = "Images"
	FieldProducts   = "Products"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@.]+(\.[^\s@.]+)+$`)
	digitsOnly   = regexp.MustCompile(`^[0-9]+$`)
	clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
)

var weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// DefaultRegistry returns the business record field table.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		TextField(FieldName, domain.KeyName, 2, 100),
		TextField(FieldAddress, domain.KeyAddress, 5, 200),
		TaxonomyField(FieldCategory, domain.TaxonomyCategory, domain.KeyCategory),
		TaxonomyField(FieldLocation, domain.TaxonomyLocation, domain.KeyLocation, domain.KeyDistrict),
		PhoneField(FieldPhone, domain.KeyPhone),
		PhoneField(FieldWhatsApp, domain.KeyWhatsApp),
		EmailField(FieldEmail, domain.KeyEmail),
		URLField(FieldWebsite, domain.KeyWebsite),
		URLField(FieldSocialLink, domain.KeySocialLink),
		URLField(FieldMapLink, domain.KeyMapLink),
		LongTextField(FieldAbout, domain.KeyAbout, 200),
		HoursField(FieldHours, domain.KeyHours),
		ImagesField(FieldImages, domain.KeyImages),
		ProductsField(FieldProducts, domain.KeyProducts),
	)
	if err != nil {
		panic(err)
	}
	return r
}

func single(key string, value any) map[string]any {
	return map[string]any{key: value}
}

// TextField is a required single-line value with a rune-length window.
func TextField(name, key string, minLen, maxLen int) Descriptor {
	return Descriptor{
		Name:     name,
		Kind:     KindText,
		Keys:     []string{key},
		Required: true,
		Validate: func(_ Env, in domain.FieldInput) []string {
			v := strings.TrimSpace(in.Value)
			if v == "" {
				return []string{name + " is required"}
			}
			if n := utf8.RuneCountInString(v); n < minLen || n > maxLen {
				return []string{fmt.Sprintf("%s must be between %d and %d characters", name, minLen, maxLen)}
			}
			return nil
		},
		Normalize: func(_ Env, in domain.FieldInput) map[string]any {
			return single(key, strings.TrimSpace(in.Value))
		},
	}
}

// LongTextField is a required free-text value capped by word count.
func LongTextField(name, key string, maxWords int) Descriptor {
	return Descriptor{
		Name:     name,
		Kind:     KindLongText,
		Keys:     []string{key},
		Required: true,
		Validate: func(_ Env, in domain.FieldInput) []string {
			words := strings.Fields(in.Value)
			if len(words) == 0 {
				return []string{name + " is required"}
			}
			if len(words) > maxWords {
				return []string{fmt.Sprintf("%s must be at most %d words, got %d", name, maxWords, len(words))}
			}
			return nil
		},
		Normalize: func(_ Env, in domain.FieldInput) map[string]any {
			return single(key, strings.TrimSpace(in.Value))
		},
	}
}

// PhoneField accepts exactly nine local digits and stores them behind the
// calling code.
func PhoneField(name, key string) Descriptor {
	return Descriptor{
		Name:     name,
		Kind:     KindPhone,
		Keys:     []string{key},
		Required: true,
		Validate: func(env Env, in domain.FieldInput) []string {
			v := strings.TrimSpace(in.Value)
			switch {
			case v == "":
				return []string{name + " is required"}
			case env.CallingCode != "" && strings.HasPrefix(v, env.CallingCode):
				return []string{fmt.Sprintf("%s already includes %s; enter the 9 local digits only", name, env.CallingCode)}
			case !digitsOnly.MatchString(v):
				return []string{name + " must contain digits only"}
			case len(v) != 9:
				return []string{fmt.Sprintf("%s must be exactly 9 digits, got %d", name, len(v))}
			}
			return nil
		},
		Normalize: func(env Env, in domain.FieldInput) map[string]any {
			return single(key, env.CallingCode+strings.TrimSpace(in.Value))
		},
	}
}

// EmailField requires a local@domain.tld address stored in lowercase.
func EmailField(name, key string) Descriptor {
	return Descriptor{
		Name:     name,
		Kind:     KindEmail,
		Keys:     []string{key},
		Required: true,
		Validate: func(_ Env, in domain.FieldInput) []string {
			v := strings.TrimSpace(in.Value)
			if v == "" {
				return []string{name + " is required"}
			}
			if !emailPattern.MatchString(v) {
				return []string{fmt.Sprintf("%s %q is not a valid address", name, v)}
			}
			return nil
		},
		Normalize: func(_ Env, in domain.FieldInput) map[string]any {
			return single(key, strings.ToLower(strings.TrimSpace(in.Value)))
		},
	}
}

// URLField is optional; an empty value clears the stored link.
func URLField(name, key string) Descriptor {
	return Descriptor{
		Name: name,
		Kind: KindURL,
		Keys: []string{key},
		Validate: func(env Env, in domain.FieldInput) []string {
			v := strings.TrimSpace(in.Value)
			if v == "" {
				return nil
			}
			if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
				return []string{name + " must start with http:// or https://"}
			}
			if err := env.validate.Var(v, "url"); err != nil {
				return []string{name + " must be a valid URL"}
			}
			return nil
		},
		Normalize: func(_ Env, in domain.FieldInput) map[string]any {
			return single(key, strings.TrimSpace(in.Value))
		},
	}
}

// TaxonomyField references a controlled vocabulary. A location field also
// writes its district, read from Extra["district"].
func TaxonomyField(name string, kind domain.TaxonomyKind, keys ...string) Descriptor {
	withDistrict := len(keys) > 1
	return Descriptor{
		Name:     name,
		Kind:     KindTaxonomy,
		Keys:     keys,
		Required: true,
		Taxonomy: kind,
		Validate: func(env Env, in domain.FieldInput) []string {
			var errs []string
			v := strings.TrimSpace(in.Value)
			switch {
			case v == "":
				errs = append(errs, name+" is required")
			case Fold(v) == OtherSentinel:
				if strings.TrimSpace(in.Extra[OtherSentinel]) == "" {
					errs = append(errs, fmt.Sprintf("%s: describe the other %s", name, kind))
				}
			default:
				if _, ok := env.Taxonomy.Resolve(kind, "", v); !ok {
					errs = append(errs, fmt.Sprintf("%s: %q is not a known %s; choose one or select other", name, v, kind))
				}
			}
			if withDistrict && strings.TrimSpace(in.Extra["district"]) == "" {
				errs = append(errs, name+": district is required")
			}
			return errs
		},
		Normalize: func(env Env, in domain.FieldInput) map[string]any {
			value := resolveTaxonomy(env.Taxonomy, kind, "", in)
			out := single(keys[0], value)
			if withDistrict {
				district := strings.TrimSpace(in.Extra["district"])
				if stored, ok := env.Taxonomy.Resolve(domain.TaxonomyDistrict, value, district); ok {
					district = stored
				}
				out[keys[1]] = district
			}
			return out
		},
	}
}

func resolveTaxonomy(tax Taxonomy, kind domain.TaxonomyKind, parent string, in domain.FieldInput) string {
	v := strings.TrimSpace(in.Value)
	if Fold(v) == OtherSentinel {
		v = strings.TrimSpace(in.Extra[OtherSentinel])
	}
	if stored, ok := tax.Resolve(kind, parent, v); ok {
		return stored
	}
	return v
}

// HoursField validates a weekly schedule or the always-open flag.
func HoursField(name, key string) Descriptor {
	return Descriptor{
		Name:     name,
		Kind:     KindHours,
		Keys:     []string{key},
		Required: true,
		Validate: func(_ Env, in domain.FieldInput) []string {
			if in.Hours == nil {
				return []string{name + " are required"}
			}
			if in.Hours.AlwaysOpen {
				return nil
			}
			var errs []string
			open := 0
			seen := make(map[string]bool, len(in.Hours.Days))
			for _, d := range in.Hours.Days {
				day, ok := canonicalDay(d.Day)
				if !ok {
					errs = append(errs, fmt.Sprintf("%s: unknown day %q", name, d.Day))
					continue
				}
				if seen[day] {
					errs = append(errs, fmt.Sprintf("%s: %s is listed more than once", name, day))
					continue
				}
				seen[day] = true
				if !d.IsOpen {
					continue
				}
				open++
				errs = append(errs, checkWindow(name, day, d.OpenTime, d.CloseTime)...)
			}
			if open == 0 {
				errs = append(errs, name+": at least one day must be open")
			}
			return errs
		},
		Normalize: func(_ Env, in domain.FieldInput) map[string]any {
			if in.Hours.AlwaysOpen {
				return single(key, domain.OperatingHours{AlwaysOpen: true})
			}
			days := make([]domain.DaySchedule, 0, len(in.Hours.Days))
			for _, d := range in.Hours.Days {
				day, _ := canonicalDay(d.Day)
				entry := domain.DaySchedule{Day: day, IsOpen: d.IsOpen}
				if d.IsOpen {
					entry.OpenTime = strings.TrimSpace(d.OpenTime)
					entry.CloseTime = strings.TrimSpace(d.CloseTime)
				}
				days = append(days, entry)
			}
			return single(key, domain.OperatingHours{Days: days})
		},
	}
}

func canonicalDay(day string) (string, bool) {
	f := Fold(day)
	for _, d := range weekdays {
		if Fold(d) == f {
			return d, true
		}
	}
	return "", false
}

// checkWindow compares HH:MM strings lexically; both share a reference date.
func checkWindow(name, day, opens, closes string) []string {
	opens, closes = strings.TrimSpace(opens), strings.TrimSpace(closes)
	if opens == "" || closes == "" {
		return []string{fmt.Sprintf("%s: %s needs an opening and a closing time", name, day)}
	}
	if !clockPattern.MatchString(opens) || !clockPattern.MatchString(closes) {
		return []string{fmt.Sprintf("%s: %s times must be HH:MM", name, day)}
	}
	if closes <= opens {
		return []string{fmt.Sprintf("%s: %s closes at %s, before it opens at %s", name, day, closes, opens)}
	}
	return nil
}

// ImagesField requires at least one image, kept or newly uploaded.
func ImagesField(name, key string) Descriptor {
	return Descriptor{
		Name:     name,
		Kind:     KindImages,
		Keys:     []string{key},
		Required: true,
		Validate: func(env Env, in domain.FieldInput) []string {
			var errs []string
			total := len(in.Assets) + len(in.Files)
			if total == 0 {
				errs = append(errs, name+": at least one image is required")
			}
			if limit := env.Images.MaxImages; limit > 0 && total > limit {
				errs = append(errs, fmt.Sprintf("%s: at most %d images are allowed, got %d", name, limit, total))
			}
			for i, f := range in.Files {
				if err := env.Images.Check(f); err != nil {
					errs = append(errs, fmt.Sprintf("%s: file %d: %v", name, i+1, err))
				}
			}
			return errs
		},
		// Uploaded files are appended by the caller once stored.
		Normalize: func(_ Env, in domain.FieldInput) map[string]any {
			return single(key, append([]domain.ImageAsset{}, in.Assets...))
		},
	}
}

// ProductsField validates the product catalogue and any new product images.
func ProductsField(name, key string) Descriptor {
	return Descriptor{
		Name: name,
		Kind: KindProducts,
		Keys: []string{key},
		Validate: func(env Env, in domain.FieldInput) []string {
			var errs []string
			if limit := env.Images.MaxProducts; limit > 0 && len(in.Products) > limit {
				errs = append(errs, fmt.Sprintf("%s: at most %d products are allowed, got %d", name, limit, len(in.Products)))
			}
			seen := make(map[string]bool, len(in.Products))
			for i, p := range in.Products {
				if err := env.validate.Struct(p); err != nil {
					for _, msg := range describeValidation(err) {
						errs = append(errs, fmt.Sprintf("%s: product %d: %s", name, i+1, msg))
					}
				}
				code := Fold(p.ItemCode)
				if code != "" && seen[code] {
					errs = append(errs, fmt.Sprintf("%s: item code %q is used twice", name, p.ItemCode))
				}
				seen[code] = true
			}
			for code, f := range in.ProductFiles {
				if !seen[Fold(code)] {
					errs = append(errs, fmt.Sprintf("%s: image %s targets unknown item code %q", name, f.Name, code))
					continue
				}
				if err := env.Images.Check(f); err != nil {
					errs = append(errs, fmt.Sprintf("%s: item %s: %v", name, code, err))
				}
			}
			return errs
		},
		Normalize: func(_ Env, in domain.FieldInput) map[string]any {
			products := domain.CloneProducts(in.Products)
			if products == nil {
				products = []domain.Product{}
			}
			for i := range products {
				products[i].Name = strings.TrimSpace(products[i].Name)
				products[i].ItemCode = strings.TrimSpace(products[i].ItemCode)
			}
			return single(key, products)
		},
	}
}
