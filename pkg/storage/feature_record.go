package storage

// FeatureRecord is the persisted form of one feature row. The same struct backs
// the columnar snapshot and the inspection table mirrored into the SQL store.
type FeatureRecord struct {
	TimestampMillis int64   `gorm:"column:ts;primaryKey" parquet:"name=ts, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Latitude        float64 `gorm:"column:latitude;primaryKey" parquet:"name=latitude, type=DOUBLE"`
	Longitude       float64 `gorm:"column:longitude;primaryKey" parquet:"name=longitude, type=DOUBLE"`
	TempLag1h       float64 `gorm:"column:temp_lag_1h" parquet:"name=temp_lag_1h, type=DOUBLE"`
	TempLag2h       float64 `gorm:"column:temp_lag_2h" parquet:"name=temp_lag_2h, type=DOUBLE"`
	TempLag3h       float64 `gorm:"column:temp_lag_3h" parquet:"name=temp_lag_3h, type=DOUBLE"`
	TempLag4h       float64 `gorm:"column:temp_lag_4h" parquet:"name=temp_lag_4h, type=DOUBLE"`
	TempLag5h       float64 `gorm:"column:temp_lag_5h" parquet:"name=temp_lag_5h, type=DOUBLE"`
	TempLag6h       float64 `gorm:"column:temp_lag_6h" parquet:"name=temp_lag_6h, type=DOUBLE"`
	TempLag24h      float64 `gorm:"column:temp_lag_24h" parquet:"name=temp_lag_24h, type=DOUBLE"`
	TempMA3h        float64 `gorm:"column:temp_ma_3h" parquet:"name=temp_ma_3h, type=DOUBLE"`
	TempMA6h        float64 `gorm:"column:temp_ma_6h" parquet:"name=temp_ma_6h, type=DOUBLE"`
	Humidity        float64 `gorm:"column:humidity" parquet:"name=humidity, type=DOUBLE"`
	Precipitation   float64 `gorm:"column:precipitation" parquet:"name=precipitation, type=DOUBLE"`
	WindSpeed       float64 `gorm:"column:wind_speed" parquet:"name=wind_speed, type=DOUBLE"`
	HourSin         float64 `gorm:"column:hour_sin" parquet:"name=hour_sin, type=DOUBLE"`
	HourCos         float64 `gorm:"column:hour_cos" parquet:"name=hour_cos, type=DOUBLE"`
	TempNextHour    float64 `gorm:"column:temp_next_hour" parquet:"name=temp_next_hour, type=DOUBLE"`
}

// TableName pins the mirror table name.
func (FeatureRecord) TableName() string {
	return "weather_features"
}
