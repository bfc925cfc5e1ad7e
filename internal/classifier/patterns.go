package classifier

import (
	"regexp"
	"strings"

	"github.com/DerekVonk/vonkfi-sub000/internal/models"
)

// levelPattern ties a source-text regex to the dependency level it implies.
// Detection walks the tables from most to least restrictive; the first table
// with a hit decides the level.
type levelPattern struct {
	Pattern *regexp.Regexp
	Hint    string // short label surfaced in analysis explanations
}

func mustPatterns(pairs ...string) []levelPattern {
	if len(pairs)%2 != 0 {
		panic("mustPatterns: want expr/hint pairs")
	}
	patterns := make([]levelPattern, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		patterns = append(patterns, levelPattern{
			Pattern: regexp.MustCompile(pairs[i]),
			Hint:    pairs[i+1],
		})
	}
	return patterns
}

// Level pattern tables, most restrictive first. A unit matching none of them
// classifies as LevelNone.
var (
	schemaChangingPatterns = mustPatterns(
		`(?i)\b(CREATE|ALTER|DROP)\s+(TABLE|INDEX|SCHEMA|VIEW|SEQUENCE|TYPE)\b`, "ddl statement",
		`(?i)\bTRUNCATE\s+(TABLE\s+)?[a-zA-Z_]`, "truncate",
		`(?i)\bmigrat(e|ion|ions)\b`, "migration reference",
		`(?i)\bpushSchema|syncSchema|dropAllTables\b`, "schema helper",
	)

	sharedWritePatterns = mustPatterns(
		`(?i)\bUPDATE\s+[a-zA-Z_][a-zA-Z0-9_]*\s+SET\b`, "sql update",
		`(?i)\bDELETE\s+FROM\s+[a-zA-Z_]`, "sql delete",
		`(?i)\.(update|delete)\s*\(\s*\{?`, "orm write",
		`(?i)\b(resetDatabase|clearAll|cleanupTables|seedShared)\s*\(`, "shared fixture helper",
	)

	isolatedWritePatterns = mustPatterns(
		`(?i)\bINSERT\s+INTO\b`, "sql insert",
		`(?i)\b(BEGIN|START)\s+TRANSACTION\b`, "explicit transaction",
		`(?i)\.(insert|create)\s*\(`, "orm insert",
		`(?i)\b(transaction|tx)\s*\.\s*(commit|rollback)\b`, "transaction control",
		`(?i)\bwithTransaction\s*\(`, "transaction wrapper",
	)

	readOnlyPatterns = mustPatterns(
		`(?i)\bSELECT\s+[\w\*,\s]+\s+FROM\b`, "sql select",
		`(?i)\.(query|select|findMany|findFirst|findOne|count)\s*\(`, "orm read",
		`(?i)\bgetBy[A-Z]\w*\s*\(`, "repository getter",
	)
)

// Resource-profile hint patterns. Counts of hits drive the profile fields.
var (
	dbOpPattern = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|UPSERT)\b|\.(query|execute|insert|update|delete|select|transaction)\s*\(`)

	concurrentHintPattern = regexp.MustCompile(`(?i)Promise\.(all|allSettled)\s*\(|\bconcurrently\b|\bparallel\b`)

	cpuHintPattern = regexp.MustCompile(`(?i)\b(encrypt|decrypt|hash|pbkdf2|bcrypt|scrypt|compress|deflate|checksum|tokenize|parseCamt|parseXml)\b`)

	networkHintPattern = regexp.MustCompile(`(?i)\b(fetch|axios|supertest|request)\s*[.(]|https?://`)

	diskHintPattern = regexp.MustCompile(`(?i)\b(readFile|writeFile|createReadStream|createWriteStream|mkdtemp|copyFile)\b`)

	memoryHintPattern = regexp.MustCompile(`(?i)Buffer\.alloc|new\s+Array\s*\(\s*\d{4,}|largeDataset|loadFixtures`)

	testCasePattern = regexp.MustCompile(`(?m)^\s*(it|test)\s*[.(]`)

	hookPattern = regexp.MustCompile(`(?m)^\s*(beforeAll|beforeEach|afterAll|afterEach)\s*\(`)

	// Captures the table touched by a shared write. Used to derive conflict
	// edges between units writing the same table.
	writtenTablePattern = regexp.MustCompile(`(?i)\b(?:UPDATE|DELETE\s+FROM|TRUNCATE(?:\s+TABLE)?|INSERT\s+INTO)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
)

// sqlKeywords filters false positives out of written-table capture: clauses
// that follow the verbs above but are not table names.
var sqlKeywords = map[string]bool{
	"set": true, "where": true, "select": true, "from": true, "into": true, "table": true,
}

func countMatches(re *regexp.Regexp, source string) int {
	return len(re.FindAllStringIndex(source, -1))
}

func matchLevel(source string) (models.DependencyLevel, string) {
	tables := []struct {
		level    models.DependencyLevel
		patterns []levelPattern
	}{
		{models.LevelSchemaChanging, schemaChangingPatterns},
		{models.LevelSharedWrites, sharedWritePatterns},
		{models.LevelIsolatedWrites, isolatedWritePatterns},
		{models.LevelReadOnly, readOnlyPatterns},
	}

	for _, table := range tables {
		for _, p := range table.patterns {
			if p.Pattern.MatchString(source) {
				return table.level, p.Hint
			}
		}
	}
	return models.LevelNone, ""
}

// writtenTables extracts the distinct lowercase table names a unit writes.
func writtenTables(source string) []string {
	matches := writtenTablePattern.FindAllStringSubmatch(source, -1)
	seen := make(map[string]bool)
	var tables []string
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if name == "" || sqlKeywords[name] || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}
