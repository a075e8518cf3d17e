package mapview

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/pkg/pricing"
)

var popupFuncs = template.FuncMap{
	"price": func(d decimal.Decimal) string { return "R$ " + d.StringFixed(2) },
	"km":    func(f float64) string { return fmt.Sprintf("%.1f km", f) },
	"place": func(city, state string) string {
		switch {
		case city != "" && state != "":
			return city + " / " + state
		default:
			return city + state
		}
	},
}

var screenPopup = template.Must(template.New("screen").Funcs(popupFuncs).Parse(
	`<div class="screen-popup">` +
		`<strong>{{.Label}}</strong>` +
		`{{with .Code}}<div class="code">{{.}}</div>{{end}}` +
		`{{with place .City .State}}<div class="place">{{.}}</div>{{end}}` +
		`<div class="class">Classe {{.Class}}</div>` +
		`<div class="price">{{price .WeeklyPrice}} / semana</div>` +
		`<div class="reach">{{.WeeklyReach}} pessoas / semana</div>` +
		`</div>`))

var resultPopup = template.Must(template.New("result").Funcs(popupFuncs).Parse(
	`<div class="screen-popup">` +
		`<strong>{{.Label}}</strong>` +
		`{{with .Code}}<div class="code">{{.}}</div>{{end}}` +
		`{{with place .City .State}}<div class="place">{{.}}</div>{{end}}` +
		`<div class="class">Classe {{.Class}}</div>` +
		`<div class="price">{{price .WeeklyPrice}} / semana</div>` +
		`<div class="reach">{{.WeeklyReach}} pessoas / semana</div>` +
		`<div class="distance">{{km .DistanceKm}}</div>` +
		`</div>`))

type pricedScreen struct {
	domain.ScreenRecord
	WeeklyPrice decimal.Decimal
	WeeklyReach int
}

// ScreenPopup renders the popup of an inventory marker priced for weeks.
func ScreenPopup(s domain.ScreenRecord, weeks int) string {
	if weeks < 1 {
		weeks = 1
	}
	q := pricing.PriceAndReach(s.Class, weeks)
	return render(screenPopup, pricedScreen{ScreenRecord: s, WeeklyPrice: q.WeeklyPrice, WeeklyReach: q.WeeklyReach})
}

// ResultPopup renders the popup of a search result marker.
func ResultPopup(r domain.SearchResult) string {
	return render(resultPopup, r)
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		// only reachable through a broken template
		return template.HTMLEscapeString(strings.TrimSpace(fmt.Sprint(data)))
	}
	return buf.String()
}
