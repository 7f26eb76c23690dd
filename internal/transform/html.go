package transform

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var signatureClassPattern = regexp.MustCompile(`(?i)(signature|email-signature|footer|disclaimer)`)

// cleanHTML implements §4.6 step 2: strip script/style, signature-like
// elements, tracking pixels, and images from configured tracking hosts.
func cleanHTML(html string, trackingHostPatterns []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style").Remove()

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		if signatureClassPattern.MatchString(class) || signatureClassPattern.MatchString(id) {
			s.Remove()
		}
	})

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if isTrackingPixel(s) || isTrackingHostImage(s, trackingHostPatterns) {
			s.Remove()
		}
	})

	return doc.Html()
}

// isTrackingPixel matches §4.6's "images with both width <= 1 and height <=
// 1". Both attributes must be present and parse as integers; anything else
// is treated as not a tracking pixel (no false positives on missing
// dimensions).
func isTrackingPixel(s *goquery.Selection) bool {
	widthAttr, hasWidth := s.Attr("width")
	heightAttr, hasHeight := s.Attr("height")
	if !hasWidth || !hasHeight {
		return false
	}
	width, err := strconv.Atoi(strings.TrimSpace(widthAttr))
	if err != nil {
		return false
	}
	height, err := strconv.Atoi(strings.TrimSpace(heightAttr))
	if err != nil {
		return false
	}
	return width <= 1 && height <= 1
}

func isTrackingHostImage(s *goquery.Selection, patterns []string) bool {
	src, ok := s.Attr("src")
	if !ok {
		return false
	}
	src = strings.ToLower(src)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(src, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
