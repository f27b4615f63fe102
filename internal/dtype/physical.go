package dtype

import "fmt"

// Flavor identifies a target SQL backend for physical type resolution.
// Mirrors the teacher's core.Dialect enumeration, narrowed to the
// flavors this engine actually drives sync against (§9 DESIGN.md).
type Flavor string

const (
	FlavorMySQL      Flavor = "mysql"
	FlavorMariaDB    Flavor = "mariadb"
	FlavorPostgreSQL Flavor = "postgresql"
	FlavorSQLite     Flavor = "sqlite"
	FlavorMSSQL      Flavor = "mssql"
	FlavorOracle     Flavor = "oracle"
)

// PhysicalType resolves a logical dtype to the physical column type
// string for the given flavor, per §4.1's per-flavor rules:
//
//   - numeric -> native arbitrary-precision decimal where available
//     (PostgreSQL/MySQL/MariaDB/MSSQL NUMERIC, Oracle NUMBER); TEXT
//     elsewhere (SQLite), reparsed on read.
//   - bool -> native BOOLEAN where available; BIT (MSSQL), INTEGER
//     (SQLite/Oracle) or TINYINT(1) (MySQL/MariaDB).
//   - datetime64[ns,UTC] -> timezone-aware timestamp, UTC on the wire.
//   - json -> native JSON/JSONB where available; TEXT fallback.
//   - bytes -> native binary where available.
//   - uuid -> native UUID where available; fixed-width text fallback.
//   - int -> widest native signed integer.
func PhysicalType(d Dtype, flavor Flavor) (string, error) {
	switch d.Kind {
	case KindInt:
		return physicalInt(flavor), nil
	case KindFloat:
		return physicalFloat(flavor), nil
	case KindNumeric:
		return physicalNumeric(d, flavor), nil
	case KindBool:
		return physicalBool(flavor), nil
	case KindStr:
		return physicalStr(flavor), nil
	case KindBytes:
		return physicalBytes(flavor), nil
	case KindUUID:
		return physicalUUID(flavor), nil
	case KindJSON:
		return physicalJSON(flavor), nil
	case KindDatetime:
		return physicalDatetimeNaive(flavor), nil
	case KindDatetimeUTC:
		return physicalDatetimeUTC(flavor), nil
	default:
		return "", fmt.Errorf("no physical type mapping for dtype %q on flavor %q", d, flavor)
	}
}

func physicalInt(f Flavor) string {
	switch f {
	case FlavorMSSQL:
		return "BIGINT"
	case FlavorOracle:
		return "NUMBER(19)"
	default:
		return "BIGINT"
	}
}

func physicalFloat(f Flavor) string {
	switch f {
	case FlavorOracle:
		return "BINARY_DOUBLE"
	default:
		return "DOUBLE PRECISION"
	}
}

func physicalNumeric(d Dtype, f Flavor) string {
	precise := d.Precision > 0
	switch f {
	case FlavorPostgreSQL, FlavorMySQL, FlavorMariaDB, FlavorMSSQL:
		if precise {
			return fmt.Sprintf("NUMERIC(%d,%d)", d.Precision, d.Scale)
		}
		return "NUMERIC"
	case FlavorOracle:
		if precise {
			return fmt.Sprintf("NUMBER(%d,%d)", d.Precision, d.Scale)
		}
		return "NUMBER"
	case FlavorSQLite:
		// No native arbitrary-precision decimal: stored as TEXT, reparsed on read.
		return "TEXT"
	default:
		return "TEXT"
	}
}

func physicalBool(f Flavor) string {
	switch f {
	case FlavorMSSQL:
		return "BIT"
	case FlavorSQLite, FlavorOracle:
		return "INTEGER"
	case FlavorMySQL, FlavorMariaDB:
		return "TINYINT(1)"
	default:
		return "BOOLEAN"
	}
}

func physicalStr(f Flavor) string {
	switch f {
	case FlavorOracle:
		return "CLOB"
	default:
		return "TEXT"
	}
}

func physicalBytes(f Flavor) string {
	switch f {
	case FlavorPostgreSQL:
		return "BYTEA"
	case FlavorMSSQL:
		return "VARBINARY(MAX)"
	case FlavorOracle:
		return "BLOB"
	default:
		return "BLOB"
	}
}

func physicalUUID(f Flavor) string {
	switch f {
	case FlavorPostgreSQL:
		return "UUID"
	case FlavorMSSQL:
		return "UNIQUEIDENTIFIER"
	default:
		// fixed-width text fallback (36 chars incl. hyphens)
		return "CHAR(36)"
	}
}

func physicalJSON(f Flavor) string {
	switch f {
	case FlavorPostgreSQL:
		return "JSONB"
	case FlavorMySQL, FlavorMariaDB:
		return "JSON"
	default:
		return "TEXT"
	}
}

func physicalDatetimeNaive(f Flavor) string {
	switch f {
	case FlavorMSSQL:
		return "DATETIME2"
	default:
		return "TIMESTAMP"
	}
}

func physicalDatetimeUTC(f Flavor) string {
	switch f {
	case FlavorPostgreSQL:
		return "TIMESTAMPTZ"
	case FlavorMSSQL:
		return "DATETIMEOFFSET"
	case FlavorSQLite:
		// SQLite has no tz-aware type; store as TEXT (ISO-8601 UTC) with conversion at the dataframe layer.
		return "TEXT"
	default:
		return "TIMESTAMP"
	}
}

// WidenedPhysical resolves the physical type for a dtype that has been
// widened to TEXT because enforce=false and coercion failed (§4.1).
func WidenedPhysical(f Flavor) string {
	return physicalStr(f)
}
