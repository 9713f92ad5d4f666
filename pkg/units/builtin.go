package units

func builtinDefinitions() []Definition {
	return []Definition{
		{Symbol: "m", Base: DimLength, Prefixable: true, Aliases: []string{"meter", "metre", "meters", "metres"}},
		{Symbol: "kg", Base: DimMass, Aliases: []string{"kilogram", "kilograms"}},
		{Symbol: "s", Base: DimTime, Prefixable: true, Aliases: []string{"second", "seconds", "sec"}},
		{Symbol: "A", Base: DimCurrent, Prefixable: true, Aliases: []string{"ampere", "amperes"}},
		{Symbol: "K", Base: DimTemperature, Prefixable: true, Aliases: []string{"kelvin"}},
		{Symbol: "mol", Base: DimAmount, Prefixable: true, Aliases: []string{"mole", "moles"}},
		{Symbol: "cd", Base: DimLuminosity, Prefixable: true, Aliases: []string{"candela"}},

		{Symbol: "EUR", Base: CurrencyDim("EUR"), Aliases: []string{"euro", "euros", "€"}},
		{Symbol: "USD", Base: CurrencyDim("USD"), Aliases: []string{"dollar", "dollars", "US$", "$"}},

		{Symbol: "g", Expr: "0.001 kg", Prefixable: true, Aliases: []string{"gram", "grams"}},

		{Symbol: "percent", Expr: "0.01", Aliases: []string{"%", "pct"}},
		{Symbol: "head", Expr: "1", Aliases: []string{"heads", "an", "animal", "animals", "no", "number", "cap", "capita"}},
		{Symbol: "ppm", Expr: "0.000001"},
		{Symbol: "thousand", Expr: "1000"},
		{Symbol: "million", Expr: "1e6", Aliases: []string{"mio"}},
		{Symbol: "billion", Expr: "1e9", Aliases: []string{"bn"}},

		{Symbol: "t", Expr: "1000 kg", Prefixable: true, Aliases: []string{"tonne", "tonnes", "ton", "tons", "metric_ton"}},
		{Symbol: "lb", Expr: "0.45359237 kg", Aliases: []string{"pound", "pounds"}},

		{Symbol: "min", Expr: "60 s", Aliases: []string{"minute", "minutes"}},
		{Symbol: "h", Expr: "3600 s", Aliases: []string{"hour", "hours", "hr"}},
		{Symbol: "day", Expr: "86400 s", Aliases: []string{"days", "d"}},
		{Symbol: "yr", Expr: "365.25 day", Aliases: []string{"year", "years", "a", "annum"}},

		{Symbol: "ha", Expr: "10000 m^2", Aliases: []string{"hectare", "hectares"}},
		{Symbol: "m2", Expr: "m^2", Aliases: []string{"square_meter", "sqm"}},
		{Symbol: "m3", Expr: "m^3", Aliases: []string{"cubic_meter", "cubic_meters"}},
		{Symbol: "l", Expr: "0.001 m^3", Prefixable: true, Aliases: []string{"L", "liter", "litre", "liters", "litres"}},

		{Symbol: "N", Expr: "kg*m/s^2", Prefixable: true, Aliases: []string{"newton", "newtons"}},
		{Symbol: "J", Expr: "N*m", Prefixable: true, Aliases: []string{"joule", "joules"}},
		{Symbol: "W", Expr: "J/s", Prefixable: true, Aliases: []string{"watt", "watts"}},
		{Symbol: "Wh", Expr: "3600 J", Prefixable: true, Aliases: []string{"watthour"}},
		{Symbol: "Pa", Expr: "N/m^2", Prefixable: true, Aliases: []string{"pascal"}},
		{Symbol: "cal", Expr: "4.184 J", Prefixable: true, Aliases: []string{"calorie", "calories"}},
		{Symbol: "toe", Expr: "41868000000 J", Prefixable: true, Aliases: []string{"tonne_oil_equivalent"}},
		{Symbol: "tce", Expr: "29307600000 J", Aliases: []string{"tonne_coal_equivalent"}},
	}
}
