package domain

import "fmt"

// Storage keys address individual business record attributes.
const (
	KeyName       = "name"
	KeyAddress    = "address"
	KeyCategory   = "category"
	KeyLocation   = "location"
	KeyDistrict   = "district"
	KeyPhone      = "phone"
	KeyWhatsApp   = "whatsapp"
	KeyEmail      = "email"
	KeyWebsite    = "website"
	KeySocialLink = "social_link"
	KeyMapLink    = "map_link"
	KeyAbout      = "about"
	KeyHours      = "hours"
	KeyImages     = "images"
	KeyProducts   = "products"
)

func (r *BusinessRecord) stringField(key string) *string {
	switch key {
	case KeyName:
		return &r.Name
	case KeyAddress:
		return &r.Address
	case KeyCategory:
		return &r.Category
	case KeyLocation:
		return &r.Location
	case KeyDistrict:
		return &r.District
	case KeyPhone:
		return &r.Phone
	case KeyWhatsApp:
		return &r.WhatsApp
	case KeyEmail:
		return &r.Email
	case KeyWebsite:
		return &r.Website
	case KeySocialLink:
		return &r.SocialLink
	case KeyMapLink:
		return &r.MapLink
	case KeyAbout:
		return &r.About
	}
	return nil
}

// SetValue assigns a normalized value to the attribute behind key.
func (r *BusinessRecord) SetValue(key string, value any) error {
	if ptr := r.stringField(key); ptr != nil {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("storage key %s expects string, got %T", key, value)
		}
		*ptr = s
		return nil
	}
	switch key {
	case KeyHours:
		h, ok := value.(OperatingHours)
		if !ok {
			return fmt.Errorf("storage key %s expects OperatingHours, got %T", key, value)
		}
		h.Days = append([]DaySchedule(nil), h.Days...)
		r.Hours = h
	case KeyImages:
		imgs, ok := value.([]ImageAsset)
		if !ok {
			return fmt.Errorf("storage key %s expects []ImageAsset, got %T", key, value)
		}
		r.Images = append([]ImageAsset(nil), imgs...)
	case KeyProducts:
		products, ok := value.([]Product)
		if !ok {
			return fmt.Errorf("storage key %s expects []Product, got %T", key, value)
		}
		r.Products = CloneProducts(products)
	default:
		return fmt.Errorf("unknown storage key %q", key)
	}
	return nil
}

// Value returns the current attribute behind key.
func (r BusinessRecord) Value(key string) (any, bool) {
	if ptr := r.stringField(key); ptr != nil {
		return *ptr, true
	}
	switch key {
	case KeyHours:
		return r.Hours, true
	case KeyImages:
		return append([]ImageAsset(nil), r.Images...), true
	case KeyProducts:
		return CloneProducts(r.Products), true
	}
	return nil, false
}

// StringValue returns scalar attributes only; composite keys report false.
func (r BusinessRecord) StringValue(key string) (string, bool) {
	if ptr := r.stringField(key); ptr != nil {
		return *ptr, true
	}
	return "", false
}

// CloneProducts deep-copies a product list including image pointers.
func CloneProducts(in []Product) []Product {
	if in == nil {
		return nil
	}
	out := make([]Product, len(in))
	for i, p := range in {
		out[i] = p
		if p.Image != nil {
			img := *p.Image
			out[i].Image = &img
		}
	}
	return out
}

// CloneRecord deep-copies a business record.
func CloneRecord(r BusinessRecord) BusinessRecord {
	cp := r
	cp.Hours.Days = append([]DaySchedule(nil), r.Hours.Days...)
	cp.Images = append([]ImageAsset(nil), r.Images...)
	cp.Products = CloneProducts(r.Products)
	cp.History = append([]HistoryEntry(nil), r.History...)
	return cp
}

// OwnedAssets lists every image held by the record, business images first.
func (r BusinessRecord) OwnedAssets() []ImageAsset {
	out := append([]ImageAsset(nil), r.Images...)
	for _, p := range r.Products {
		if p.Image != nil {
			out = append(out, *p.Image)
		}
	}
	return out
}
