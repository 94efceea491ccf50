package fields

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizdir/pkg/domain"
)

func testTaxonomy() Taxonomy {
	return NewTaxonomy([]domain.TaxonomyEntry{
		{Kind: domain.TaxonomyCategory, Value: "Restaurant"},
		{Kind: domain.TaxonomyLocation, Value: "Mogadishu"},
		{Kind: domain.TaxonomyDistrict, Value: "Hodan", Parent: "Mogadishu"},
	})
}

func text(v string) domain.FieldInput { return domain.FieldInput{Value: v} }

func pngFile(name string) domain.UploadFile {
	return domain.UploadFile{Name: name, ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
}

func TestPhonePrefixedExactlyOnce(t *testing.T) {
	e := NewEngine()
	res := e.Validate(FieldPhone, text(" 612345678 "), Taxonomy{})
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, "+252612345678", res.Normalized[domain.KeyPhone])

	again := e.Validate(FieldPhone, text(res.Normalized[domain.KeyPhone].(string)), Taxonomy{})
	require.False(t, again.OK)
	assert.Contains(t, again.Errors[0], "already includes +252")

	for _, bad := range []string{"", "61234567", "6123456789", "61234567a"} {
		res := e.Validate(FieldWhatsApp, text(bad), Taxonomy{})
		assert.False(t, res.OK, bad)
		assert.NotEmpty(t, res.Errors, bad)
	}
}

func TestPhoneCustomCallingCode(t *testing.T) {
	e := NewEngine(WithCallingCode("+254"))
	res := e.Validate("phone", text("712345678"), Taxonomy{})
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, "+254712345678", res.Normalized[domain.KeyPhone])
}

func TestOperatingHours(t *testing.T) {
	e := NewEngine()
	overnight := domain.FieldInput{Hours: &domain.OperatingHours{Days: []domain.DaySchedule{
		{Day: "Monday", IsOpen: true, OpenTime: "18:00", CloseTime: "09:00"},
	}}}
	res := e.Validate(FieldHours, overnight, Taxonomy{})
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "before it opens")

	always := domain.FieldInput{Hours: &domain.OperatingHours{AlwaysOpen: true, Days: []domain.DaySchedule{
		{Day: "Someday", IsOpen: true, OpenTime: "25:00", CloseTime: "01:00"},
	}}}
	res = e.Validate(FieldHours, always, Taxonomy{})
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, domain.OperatingHours{AlwaysOpen: true}, res.Normalized[domain.KeyHours])

	closed := domain.FieldInput{Hours: &domain.OperatingHours{Days: []domain.DaySchedule{{Day: "Friday"}}}}
	assert.False(t, e.Validate(FieldHours, closed, Taxonomy{}).OK)

	badFormat := domain.FieldInput{Hours: &domain.OperatingHours{Days: []domain.DaySchedule{
		{Day: "tuesday", IsOpen: true, OpenTime: "8am", CloseTime: "17:00"},
	}}}
	assert.False(t, e.Validate(FieldHours, badFormat, Taxonomy{}).OK)

	ok := domain.FieldInput{Hours: &domain.OperatingHours{Days: []domain.DaySchedule{
		{Day: "tuesday", IsOpen: true, OpenTime: "08:00", CloseTime: "17:30"},
		{Day: "Friday", IsOpen: false, OpenTime: "10:00"},
	}}}
	res = e.Validate(FieldHours, ok, Taxonomy{})
	require.True(t, res.OK, res.Errors)
	hours := res.Normalized[domain.KeyHours].(domain.OperatingHours)
	assert.Equal(t, "Tuesday", hours.Days[0].Day)
	assert.Empty(t, hours.Days[1].OpenTime)

	assert.False(t, e.Validate(FieldHours, domain.FieldInput{}, Taxonomy{}).OK)
}

func TestOperatingHoursRejectsRepeatedDay(t *testing.T) {
	e := NewEngine()
	twice := domain.FieldInput{Hours: &domain.OperatingHours{Days: []domain.DaySchedule{
		{Day: "Monday", IsOpen: true, OpenTime: "08:00", CloseTime: "12:00"},
		{Day: "monday", IsOpen: true, OpenTime: "14:00", CloseTime: "18:00"},
	}}}
	res := e.Validate(FieldHours, twice, Taxonomy{})
	require.False(t, res.OK)
	assert.Contains(t, strings.Join(res.Errors, "; "), "Monday is listed more than once")
}

func TestTextAndLongText(t *testing.T) {
	e := NewEngine()
	assert.False(t, e.Validate(FieldName, text("A"), Taxonomy{}).OK)
	res := e.Validate(FieldName, text("  Hodan Cafe "), Taxonomy{})
	require.True(t, res.OK)
	assert.Equal(t, "Hodan Cafe", res.Normalized[domain.KeyName])
	assert.False(t, e.Validate(FieldAddress, text("abc"), Taxonomy{}).OK)

	about := strings.Repeat("word ", 200)
	assert.True(t, e.Validate(FieldAbout, text(about), Taxonomy{}).OK)
	assert.False(t, e.Validate(FieldAbout, text(about+"extra"), Taxonomy{}).OK)
	assert.False(t, e.Validate(FieldAbout, text("   "), Taxonomy{}).OK)
}

func TestEmailAndURL(t *testing.T) {
	e := NewEngine()
	res := e.Validate(FieldEmail, text(" Info@Hodan.SO "), Taxonomy{})
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, "info@hodan.so", res.Normalized[domain.KeyEmail])
	assert.False(t, e.Validate(FieldEmail, text("info@hodan"), Taxonomy{}).OK)
	assert.False(t, e.Validate(FieldEmail, text("not an email"), Taxonomy{}).OK)

	assert.True(t, e.Validate(FieldWebsite, text(""), Taxonomy{}).OK)
	assert.True(t, e.Validate(FieldWebsite, text("https://hodan.so/menu"), Taxonomy{}).OK)
	assert.False(t, e.Validate(FieldSocialLink, text("ftp://hodan.so"), Taxonomy{}).OK)
	assert.False(t, e.Validate(FieldMapLink, text("hodan.so"), Taxonomy{}).OK)
}

func TestTaxonomyFields(t *testing.T) {
	e := NewEngine()
	tax := testTaxonomy()

	res := e.Validate(FieldCategory, text("restaurant"), tax)
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, "Restaurant", res.Normalized[domain.KeyCategory])

	assert.False(t, e.Validate(FieldCategory, text("Bakery"), tax).OK)
	assert.False(t, e.Validate(FieldCategory, domain.FieldInput{Value: "Other"}, tax).OK)

	res = e.Validate(FieldCategory, domain.FieldInput{Value: "Other", Extra: map[string]string{"other": " Bakery "}}, tax)
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, "Bakery", res.Normalized[domain.KeyCategory])

	res = e.Validate(FieldLocation, domain.FieldInput{Value: "MOGADISHU", Extra: map[string]string{"district": "hodan"}}, tax)
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, map[string]any{domain.KeyLocation: "Mogadishu", domain.KeyDistrict: "Hodan"}, res.Normalized)

	res = e.Validate(FieldLocation, domain.FieldInput{Value: "Mogadishu"}, tax)
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "district is required")
}

func TestImages(t *testing.T) {
	e := NewEngine()
	assert.False(t, e.Validate(FieldImages, domain.FieldInput{}, Taxonomy{}).OK)

	bad := domain.FieldInput{Files: []domain.UploadFile{pngFile("a.png"), {Name: "b.txt", ContentType: "text/plain", Data: []byte("x")}}}
	res := e.Validate(FieldImages, bad, Taxonomy{})
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "file 2")

	huge := domain.UploadFile{Name: "big.png", ContentType: "image/png", Data: make([]byte, 5<<20+1)}
	assert.False(t, e.Validate(FieldImages, domain.FieldInput{Files: []domain.UploadFile{huge}}, Taxonomy{}).OK)

	var six []domain.UploadFile
	for i := 0; i < 6; i++ {
		six = append(six, pngFile("x.png"))
	}
	assert.False(t, e.Validate(FieldImages, domain.FieldInput{Files: six}, Taxonomy{}).OK)

	kept := domain.FieldInput{Assets: []domain.ImageAsset{{Handle: "h1"}}, Files: []domain.UploadFile{pngFile("n.png")}}
	res = e.Validate(FieldImages, kept, Taxonomy{})
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, []domain.ImageAsset{{Handle: "h1"}}, res.Normalized[domain.KeyImages])
}

func TestProducts(t *testing.T) {
	e := NewEngine()
	res := e.Validate(FieldProducts, domain.FieldInput{Products: []domain.Product{{Name: "Tea"}}}, Taxonomy{})
	require.False(t, res.OK)
	assert.Contains(t, res.Errors[0], "item_code is required")

	dup := []domain.Product{{Name: "Tea", ItemCode: "T1"}, {Name: "Chai", ItemCode: "t1"}}
	assert.False(t, e.Validate(FieldProducts, domain.FieldInput{Products: dup}, Taxonomy{}).OK)

	var many []domain.Product
	for i := 0; i < 21; i++ {
		many = append(many, domain.Product{Name: "P", ItemCode: string(rune('A' + i))})
	}
	assert.False(t, e.Validate(FieldProducts, domain.FieldInput{Products: many}, Taxonomy{}).OK)

	orphan := domain.FieldInput{
		Products:     []domain.Product{{Name: "Tea", ItemCode: "T1", NewPrice: 2}},
		ProductFiles: map[string]domain.UploadFile{"T9": pngFile("t.png")},
	}
	assert.False(t, e.Validate(FieldProducts, orphan, Taxonomy{}).OK)

	good := domain.FieldInput{
		Products:     []domain.Product{{Name: " Tea ", ItemCode: "T1", OldPrice: 3, NewPrice: 2}},
		ProductFiles: map[string]domain.UploadFile{"T1": pngFile("t.png")},
	}
	res = e.Validate(FieldProducts, good, Taxonomy{})
	require.True(t, res.OK, res.Errors)
	assert.Equal(t, "Tea", res.Normalized[domain.KeyProducts].([]domain.Product)[0].Name)

	negative := domain.FieldInput{Products: []domain.Product{{Name: "Tea", ItemCode: "T1", NewPrice: -1}}}
	assert.False(t, e.Validate(FieldProducts, negative, Taxonomy{}).OK)
}

func TestValidateRecord(t *testing.T) {
	e := NewEngine()
	payload := map[string]domain.FieldInput{
		"name":     text("Hodan Cafe"),
		"Address":  text("Maka Al Mukarama Road"),
		"category": text("Restaurant"),
		"location": {Value: "Mogadishu", Extra: map[string]string{"district": "Hodan"}},
		"phone":    text("612345678"),
		"whatsapp": text("612345679"),
		"email":    text("info@hodan.so"),
		"about":    text("Coffee and sambusa"),
		"hours":    {Hours: &domain.OperatingHours{AlwaysOpen: true}},
		"images":   {Assets: []domain.ImageAsset{{Handle: "h"}}},
	}
	res := e.ValidateRecord(payload, testTaxonomy())
	require.True(t, res.OK, res.Errors)
	require.Len(t, res.Fields, 10)
	assert.Equal(t, FieldName, res.Fields[0].Descriptor.Name)
	assert.Equal(t, FieldImages, res.Fields[len(res.Fields)-1].Descriptor.Name)

	delete(payload, "email")
	payload["fax"] = text("1")
	res = e.ValidateRecord(payload, testTaxonomy())
	require.False(t, res.OK)
	assert.Contains(t, res.Errors, FieldEmail)
	assert.Contains(t, res.Errors, "fax")
	field, msgs := res.FirstError()
	assert.Equal(t, FieldEmail, field)
	assert.NotEmpty(t, msgs)
}

func TestUnknownField(t *testing.T) {
	res := NewEngine().Validate("Fax", text("1"), Taxonomy{})
	assert.False(t, res.OK)
	assert.Len(t, res.Errors, 1)
}
