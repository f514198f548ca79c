package rules

// DefaultTable is the built-in classification table. Order is precedence:
// specialized kinds sit above the generic ones they would otherwise be
// swallowed by (a parking ticket mentions an amount and a date just like an
// invoice does).
func DefaultTable() Table {
	return Table{
		SenderNotifications: []string{
			`^no-?reply@`,
			`^noreply[-.]`,
			`^notifications?@`,
			`^donotreply@`,
			`^mailer-daemon@`,
			`^postmaster@`,
			`^automat@`,
			`^robot@`,
		},
		Rules: []Rule{
			{
				Kind: "parking_ticket",
				Any: []string{
					`parkovné`, `parkovací lístek`, `parkovací zóna`,
					`parkovací automat`, `parkoviště`, `parking ticket`,
					`doba parkování`,
				},
				Not: []string{`faktura`, `hotel`, `plná moc`},
			},
			{
				Kind: "car_wash",
				Any:  []string{`myčk[ay]`, `mytí voz`, `car wash`, `ruční mytí`},
			},
			{
				Kind: "glass_work",
				Any:  []string{`autosklo`, `čelní sklo`, `oprava skla`, `výměna skla`, `zasklení`},
			},
			{
				Kind: "car_service",
				Any: []string{
					`autoservis`, `servisní prohlídk`, `výměna oleje`,
					`pneuservis`, `přezutí`, `zakázkový list`, `\bSTK\b`,
				},
			},
			{
				Kind: "proforma",
				Any:  []string{`proforma`, `zálohov[áé] faktur`, `platba předem`, `advance payment`},
			},
			{
				Kind: "bank_statement",
				Any: []string{
					`výpis z účtu`, `bank statement`, `kontoauszug`,
					`zůstatek`, `počáteční stav`, `konečný stav`,
				},
			},
			{
				Kind: "tax_document",
				Any: []string{
					`daňov[éá] přiznání`, `tax return`, `kontrolní hlášení`,
					`souhrnné hlášení`, `přiznání k dph`, `finanční úřad`,
				},
				MinHits: 1,
			},
			{
				Kind: "invoice",
				Any: []string{
					`faktur[ay]`, `invoice`, `rechnung`, `daňový doklad`,
					`číslo faktury`, `variabilní symbol`, `celkem k úhradě`,
					`datum splatnosti`, `total amount`,
				},
				Not:     []string{`proforma`, `zálohová faktura`},
				MinHits: 2,
			},
			{
				Kind: "receipt",
				Any: []string{
					`účtenk[ay]`, `pokladní doklad`, `receipt`, `paragon`,
					`stvrzenka`, `kassenbon`,
				},
			},
			{
				Kind: "payment_document",
				Any: []string{
					`doklad o platbě`, `potvrzení o platbě`, `platební doklad`,
					`payment receipt`, `potvrzení o úhradě`,
				},
			},
			{
				Kind: "order",
				Any: []string{
					`objednávk[ay]`, `purchase order`, `bestellung`,
					`č\. obj`, `objednáváme`, `objednací číslo`,
				},
			},
			{
				Kind: "delivery_note",
				Any: []string{
					`dodací list`, `delivery note`, `lieferschein`,
					`příjemka`, `předávací protokol`,
				},
			},
			{
				Kind: "contract",
				Any: []string{
					`smlouv[ay]`, `contract`, `vertrag`, `agreement`,
					`smluvní strany`, `předmět smlouvy`,
				},
				MinHits: 2,
			},
			{
				Kind: "it_notes",
				Any: []string{
					`pull request`, `merge request`, `stack trace`, `deployment`,
					`commit`, `server log`, `incident`,
				},
				MinHits: 2,
			},
			{
				Kind: "project_notes",
				Any: []string{
					`zápis z jednání`, `zápis ze schůzky`, `meeting notes`,
					`akční body`, `harmonogram projektu`,
				},
			},
			{
				Kind: "marketing",
				Any: []string{
					`newsletter`, `unsubscribe`, `odhlásit`, `sleva`,
					`akční nabídka`, `discount`, `výprodej`,
				},
			},
			{
				Kind: "correspondence",
				Any: []string{
					`vážen[ýá]`, `dobrý den`, `dear`, `s pozdravem`,
					`regards`, `sehr geehrte`,
				},
			},
		},
	}
}
