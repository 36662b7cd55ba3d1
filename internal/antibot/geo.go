package antibot

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// geoChecker answers country lookups from a MaxMind mmdb file. A nil
// checker disables the geo check entirely.
type geoChecker struct {
	reader *geoip2.Reader
}

func newGeoChecker(path string) (*geoChecker, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &geoChecker{reader: r}, nil
}

// country returns the ISO country code for addr, or false when the
// address cannot be attributed.
func (g *geoChecker) country(addr string) (string, bool) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return "", false
	}
	rec, err := g.reader.Country(ip)
	if err != nil || rec.Country.IsoCode == "" {
		return "", false
	}
	return rec.Country.IsoCode, true
}

func (g *geoChecker) close() {
	if g != nil && g.reader != nil {
		g.reader.Close()
	}
}

// checkGeo applies the deny and allow country lists to the source
// address. Unattributable addresses are skipped.
func (x *Coordinator) checkGeo(allow, deny []string, clientIP string) (checkResult, string) {
	if x.geo == nil {
		return checkSkip, "no geo database"
	}
	code, ok := x.geo.country(clientIP)
	if !ok {
		return checkSkip, "country unknown"
	}
	if containsCountry(deny, code) {
		return checkFail, "country " + code + " denied"
	}
	if len(allow) > 0 && !containsCountry(allow, code) {
		return checkFail, "country " + code + " not in allow list"
	}
	return checkPass, ""
}

func containsCountry(list []string, code string) bool {
	for _, c := range list {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}
