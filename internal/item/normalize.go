package item

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"

	trackererrors "sjsage522/pricetracker/pkg/errors"
)

// Normalize strips markup and collapses whitespace in scraped text fields.
// A promotion that is blank after cleaning is treated as absent.
func (s *ScrapedItem) Normalize() {
	s.Title = cleanText(s.Title)
	s.StoreProductID = strings.TrimSpace(s.StoreProductID)
	s.URL = strings.TrimSpace(s.URL)
	s.ImageURL = strings.TrimSpace(s.ImageURL)

	if s.Promo != nil {
		promo := cleanText(*s.Promo)
		if promo == "" {
			s.Promo = nil
			s.PromoURL = nil
		} else {
			s.Promo = &promo
		}
	}
	if s.PromoURL != nil {
		promoURL := strings.TrimSpace(*s.PromoURL)
		s.PromoURL = &promoURL
	}
}

// Validate checks the fields the reconciler depends on
func (s *ScrapedItem) Validate() error {
	if s.StoreProductID == "" {
		return trackererrors.NewValidation("snapshot", "store product id is empty")
	}
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) || s.Price < 0 {
		return trackererrors.NewValidation("snapshot", "price must be a finite non-negative number")
	}
	return nil
}

// cleanText returns the text content of a possibly marked-up fragment
func cleanText(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return strings.Join(strings.Fields(raw), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return strings.Join(strings.Fields(raw), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
