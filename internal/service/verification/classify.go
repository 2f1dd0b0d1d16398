package verification

import "strings"

// Static lookup tables for the cheap, no-network classification fields on a
// VerificationRecord (disposable / role_account / free). Grounded on the
// teacher's advanced_throttle.go ISP/domain-suffix switch style: a plain
// set lookup, no external list-provider dependency.

var disposableDomains = map[string]struct{}{
	"mailinator.com":      {},
	"10minutemail.com":    {},
	"guerrillamail.com":   {},
	"tempmail.com":        {},
	"trashmail.com":       {},
	"yopmail.com":         {},
	"throwawaymail.com":   {},
	"getnada.com":         {},
	"sharklasers.com":     {},
	"dispostable.com":     {},
	"maildrop.cc":         {},
	"fakeinbox.com":       {},
	"mintemail.com":       {},
	"mailnesia.com":       {},
	"33mail.com":          {},
}

var freeProviderDomains = map[string]struct{}{
	"gmail.com":      {},
	"yahoo.com":      {},
	"outlook.com":    {},
	"hotmail.com":    {},
	"aol.com":        {},
	"icloud.com":     {},
	"protonmail.com": {},
	"gmx.com":        {},
	"live.com":       {},
	"msn.com":        {},
	"mail.com":       {},
	"zoho.com":       {},
}

var roleAccountLocalParts = map[string]struct{}{
	"admin":        {},
	"administrator": {},
	"support":      {},
	"help":         {},
	"info":         {},
	"sales":        {},
	"contact":      {},
	"billing":      {},
	"abuse":        {},
	"postmaster":   {},
	"webmaster":    {},
	"noreply":      {},
	"no-reply":     {},
	"marketing":    {},
	"hr":           {},
	"jobs":         {},
	"careers":      {},
	"security":     {},
	"accounts":     {},
	"office":       {},
}

func isDisposableDomain(domainPart string) bool {
	_, ok := disposableDomains[strings.ToLower(domainPart)]
	return ok
}

func isFreeProvider(domainPart string) bool {
	_, ok := freeProviderDomains[strings.ToLower(domainPart)]
	return ok
}

func isRoleAccount(localPart string) bool {
	_, ok := roleAccountLocalParts[strings.ToLower(localPart)]
	return ok
}
