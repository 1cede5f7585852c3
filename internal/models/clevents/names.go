// Package clevents porte la table unique des noms d'événements standard.
package clevents

import "strings"

const (
	PageView             = "PageView"
	ViewContent          = "ViewContent"
	AddToCart            = "AddToCart"
	AddToWishlist        = "AddToWishlist"
	InitiateCheckout     = "InitiateCheckout"
	AddPaymentInfo       = "AddPaymentInfo"
	Purchase             = "Purchase"
	Search               = "Search"
	Lead                 = "Lead"
	CompleteRegistration = "CompleteRegistration"
	Contact              = "Contact"
	Subscribe            = "Subscribe"
)

// clés normalisées (minuscules, sans séparateurs)
var standardNames = map[string]string{
	"pageview":             PageView,
	"pageviewed":           PageView,
	"viewcontent":          ViewContent,
	"productview":          ViewContent,
	"productviewed":        ViewContent,
	"addtocart":            AddToCart,
	"productaddedtocart":   AddToCart,
	"cartadd":              AddToCart,
	"addtowishlist":        AddToWishlist,
	"initiatecheckout":     InitiateCheckout,
	"checkoutstarted":      InitiateCheckout,
	"begincheckout":        InitiateCheckout,
	"addpaymentinfo":       AddPaymentInfo,
	"paymentinfosubmitted": AddPaymentInfo,
	"purchase":             Purchase,
	"checkoutcompleted":    Purchase,
	"search":               Search,
	"searchsubmitted":      Search,
	"lead":                 Lead,
	"completeregistration": CompleteRegistration,
	"signup":               CompleteRegistration,
	"contact":              Contact,
	"subscribe":            Subscribe,
}

// Normalize réduit un nom à sa clé de comparaison
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch r {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Standard retourne le nom standard correspondant, s'il existe
func Standard(name string) (string, bool) {
	std, ok := standardNames[Normalize(name)]
	return std, ok
}

func IsPageview(name string) bool {
	std, ok := Standard(name)
	return ok && std == PageView
}
