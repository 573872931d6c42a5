package market

// Column names as returned by the CoinGecko markets endpoint and stored in crypto_data.
const (
	ColID                           = "id"
	ColSymbol                       = "symbol"
	ColName                         = "name"
	ColImage                        = "image"
	ColCurrentPrice                 = "current_price"
	ColMarketCap                    = "market_cap"
	ColMarketCapRank                = "market_cap_rank"
	ColFullyDilutedValuation        = "fully_diluted_valuation"
	ColTotalVolume                  = "total_volume"
	ColHigh24h                      = "high_24h"
	ColLow24h                       = "low_24h"
	ColPriceChange24h               = "price_change_24h"
	ColPriceChangePercentage24h     = "price_change_percentage_24h"
	ColMarketCapChange24h           = "market_cap_change_24h"
	ColMarketCapChangePercentage24h = "market_cap_change_percentage_24h"
	ColCirculatingSupply            = "circulating_supply"
	ColTotalSupply                  = "total_supply"
	ColMaxSupply                    = "max_supply"
	ColATH                          = "ath"
	ColATHChangePercentage          = "ath_change_percentage"
	ColATHDate                      = "ath_date"
	ColATL                          = "atl"
	ColATLChangePercentage          = "atl_change_percentage"
	ColATLDate                      = "atl_date"
	ColROI                          = "roi"
	ColLastUpdated                  = "last_updated"
)

// Derived column names computed by the transform stage.
const (
	ColVolumeToMarketCapRatio      = "volume_to_market_cap_ratio"
	ColPriceToATHRatio             = "price_to_ath_ratio"
	ColMarketDominance             = "market_dominance"
	ColHasMaxSupply                = "has_max_supply"
	ColCirculatingSupplyPercentage = "circulating_supply_percentage"
	ColDaysSinceATH                = "days_since_ath"
	ColMarketCapCategory           = "market_cap_category"
	ColVolatility                  = "volatility"
	ColSignificantPriceChange      = "significant_price_change"
	ColYear                        = "year"
	ColMonth                       = "month"
	ColROITimes                    = "roi_times"
	ColROICurrency                 = "roi_currency"
	ColROIPercentage               = "roi_percentage"
)

// Market capitalisation buckets.
const (
	CategorySmall = "Small Cap"
	CategoryMid   = "Mid Cap"
	CategoryLarge = "Large Cap"
	CategoryMega  = "Mega Cap"
)

// RequiredColumns must be present in any non-empty batch handed to the transform stage.
var RequiredColumns = []string{
	ColID,
	ColCurrentPrice,
	ColMarketCap,
	ColTotalVolume,
	ColHigh24h,
	ColLow24h,
}

// NumericColumns are coerced to float64; values that fail coercion become missing.
var NumericColumns = []string{
	ColCurrentPrice,
	ColMarketCap,
	ColFullyDilutedValuation,
	ColTotalVolume,
	ColHigh24h,
	ColLow24h,
	ColPriceChange24h,
	ColPriceChangePercentage24h,
	ColMarketCapChange24h,
	ColMarketCapChangePercentage24h,
	ColCirculatingSupply,
	ColTotalSupply,
	ColMaxSupply,
	ColATH,
	ColATHChangePercentage,
	ColATL,
	ColATLChangePercentage,
}

// TimestampColumns are parsed into UTC instants.
var TimestampColumns = []string{
	ColLastUpdated,
	ColATHDate,
	ColATLDate,
}

// SupplyColumns default to zero when missing.
var SupplyColumns = []string{
	ColCirculatingSupply,
	ColTotalSupply,
	ColMaxSupply,
}

// DerivedColumns lists transform outputs in the order they are appended.
var DerivedColumns = []string{
	ColVolumeToMarketCapRatio,
	ColPriceToATHRatio,
	ColMarketDominance,
	ColHasMaxSupply,
	ColCirculatingSupplyPercentage,
	ColDaysSinceATH,
	ColMarketCapCategory,
	ColVolatility,
	ColSignificantPriceChange,
	ColYear,
	ColMonth,
	ColROITimes,
	ColROICurrency,
	ColROIPercentage,
}
