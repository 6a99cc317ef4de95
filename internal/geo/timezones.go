package geo

// timezoneCountries maps IANA zone names to ISO 3166-1 alpha-2 codes. It is a
// best-effort table covering the zones the site's visitors report; zones
// shared by several countries map to the most populous one.
var timezoneCountries = map[string]string{
	// Europe
	"Europe/Bucharest":   "RO",
	"Europe/Chisinau":    "MD",
	"Europe/Budapest":    "HU",
	"Europe/Sofia":       "BG",
	"Europe/Belgrade":    "RS",
	"Europe/Kiev":        "UA",
	"Europe/Kyiv":        "UA",
	"Europe/Warsaw":      "PL",
	"Europe/Prague":      "CZ",
	"Europe/Bratislava":  "SK",
	"Europe/Vienna":      "AT",
	"Europe/Berlin":      "DE",
	"Europe/Zurich":      "CH",
	"Europe/Paris":       "FR",
	"Europe/Brussels":    "BE",
	"Europe/Amsterdam":   "NL",
	"Europe/Luxembourg":  "LU",
	"Europe/London":      "GB",
	"Europe/Dublin":      "IE",
	"Europe/Lisbon":      "PT",
	"Europe/Madrid":      "ES",
	"Europe/Rome":        "IT",
	"Europe/Athens":      "GR",
	"Europe/Istanbul":    "TR",
	"Europe/Copenhagen":  "DK",
	"Europe/Stockholm":   "SE",
	"Europe/Oslo":        "NO",
	"Europe/Helsinki":    "FI",
	"Europe/Tallinn":     "EE",
	"Europe/Riga":        "LV",
	"Europe/Vilnius":     "LT",
	"Europe/Ljubljana":   "SI",
	"Europe/Zagreb":      "HR",
	"Europe/Sarajevo":    "BA",
	"Europe/Skopje":      "MK",
	"Europe/Tirane":      "AL",
	"Europe/Podgorica":   "ME",
	"Europe/Minsk":       "BY",
	"Europe/Moscow":      "RU",
	"Europe/Malta":       "MT",
	"Asia/Nicosia":       "CY",
	"Europe/Nicosia":     "CY",
	"Atlantic/Reykjavik": "IS",
	"Atlantic/Canary":    "ES",
	"Atlantic/Azores":    "PT",

	// Americas
	"America/New_York":                 "US",
	"America/Chicago":                  "US",
	"America/Denver":                   "US",
	"America/Phoenix":                  "US",
	"America/Los_Angeles":              "US",
	"America/Anchorage":                "US",
	"Pacific/Honolulu":                 "US",
	"America/Toronto":                  "CA",
	"America/Vancouver":                "CA",
	"America/Montreal":                 "CA",
	"America/Edmonton":                 "CA",
	"America/Winnipeg":                 "CA",
	"America/Halifax":                  "CA",
	"America/Mexico_City":              "MX",
	"America/Sao_Paulo":                "BR",
	"America/Argentina/Buenos_Aires":   "AR",
	"America/Buenos_Aires":             "AR",
	"America/Santiago":                 "CL",
	"America/Bogota":                   "CO",
	"America/Lima":                     "PE",
	"America/Caracas":                  "VE",

	// Asia / Middle East
	"Asia/Dubai":     "AE",
	"Asia/Qatar":     "QA",
	"Asia/Riyadh":    "SA",
	"Asia/Jerusalem": "IL",
	"Asia/Tel_Aviv":  "IL",
	"Asia/Tehran":    "IR",
	"Asia/Kolkata":   "IN",
	"Asia/Calcutta":  "IN",
	"Asia/Shanghai":  "CN",
	"Asia/Hong_Kong": "HK",
	"Asia/Taipei":    "TW",
	"Asia/Tokyo":     "JP",
	"Asia/Seoul":     "KR",
	"Asia/Singapore": "SG",
	"Asia/Bangkok":   "TH",
	"Asia/Jakarta":   "ID",
	"Asia/Manila":    "PH",
	"Asia/Tbilisi":   "GE",
	"Asia/Yerevan":   "AM",
	"Asia/Baku":      "AZ",
	"Asia/Almaty":    "KZ",

	// Africa / Oceania
	"Africa/Cairo":        "EG",
	"Africa/Casablanca":   "MA",
	"Africa/Johannesburg": "ZA",
	"Africa/Lagos":        "NG",
	"Africa/Nairobi":      "KE",
	"Australia/Sydney":    "AU",
	"Australia/Melbourne": "AU",
	"Australia/Perth":     "AU",
	"Australia/Brisbane":  "AU",
	"Pacific/Auckland":    "NZ",
}
