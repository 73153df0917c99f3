// Package encoder provides batch envelope encoding to storage object formats.
//
// # Supported Formats
//
//   - JSON: the envelope as one document, gzip applied by the uploader
//   - Parquet: one flattened row per action, for Athena and Spark
//   - Avro: Object Container File with an embedded schema
//
// # Encoder Factory
//
//	factory := encoder.NewFactory(action.FormatParquet, "snappy")
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	body, err := enc.Encode(envelope)
//
// # Compression Options
//
//	JSON:    "gzip", "uncompressed"
//	Parquet: "snappy", "gzip", "lz4", "zstd", "uncompressed"
//	Avro:    "deflate", "snappy", "null"
//
// Parquet and Avro carry compression inside the file, so the uploader never
// gzips their bodies a second time.
//
// # Thread Safety
//
// Encoder instances are safe for concurrent use.
package encoder
