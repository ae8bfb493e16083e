// Package domain models USGS earthquake event data and the pure transforms
// applied to it before persistence.
//
// # Data Source
//
// Events come from the USGS FDSN event web service
// (https://earthquake.usgs.gov/fdsnws/event/1/) queried with format=geojson.
// The fetch command stores the response's "features" array verbatim as a JSON
// file; each element is a GeoJSON Feature:
//
//	{
//	  "id": "us7000abcd",
//	  "geometry": {"type": "Point", "coordinates": [lon, lat, depth_km]},
//	  "properties": {"title": "...", "place": "...", "sig": 312, "mag": 4.6,
//	                 "magType": "mb", "time": 1714134600000, "updated": ...}
//	}
//
// # Normalization
//
// [Normalize] flattens features into [Record] rows. Missing coordinates default
// to 0. Missing, null or malformed scalar properties become unset (nil) rather
// than failing the feature. "time" and "updated" are epoch milliseconds and
// are converted to UTC timestamps; values that are not finite numbers or fall
// outside years 1..9999 become unset.
//
// # Classification
//
// Significance (USGS "sig", 0..1000+):
//
//	< 100 Low | 100..499 Moderate | >= 500 High | unset stays unset
//
// Magnitude:
//
//	<= 2.5 Minor | (2.5, 6) Light | [6, 7) Strong | [7, 8) Major | >= 8 Great
//
// Unset and NaN magnitudes classify as Minor.
//
// # Row identity
//
// The USGS event id is the natural key. Reprocessing the same feature always
// yields the same id, which is what makes the downstream merge idempotent.
package domain
