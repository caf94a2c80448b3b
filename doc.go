/*
Package schemadb implements a small table store with runtime-declared schemas
on top of a key-value storage (Bolt by default, SQLite or memory otherwise).

We implement:

1. Tables, ordered sequences of rows with synthetic, never reused integer ids.

2. Field schemas declared at runtime: type, required/nullable, defaults
(literal or generated), min/max bounds, uniqueness and timestamps.

3. Validation that coerces every inserted or updated row into the declared
types before it is stored.

4. Backfill migrations that add a field to a populated table, revalidating
every row and committing all or nothing.

# Technical Details

**Catalog.**
A single record under the key "__catalog" holds every table's field specs and
its id bookkeeping entry (the next id to hand out). The catalog is loaded in
the background when the DB is opened; operations wait for it.

**Rows.**
Each table's rows live in one record keyed by the table name, as an encoded
array of objects. The row id is stored under "id" inside each object.

**Ids.**
The next id is one past the largest id ever handed out, so deleting the last
row never frees its id. The counter lives in the catalog and is written in the
same batch as the rows.

**Encoding.**
Records are msgpack by default, with dates as msgpack timestamps. JSON
encoding stores dates as RFC 3339 strings, which are turned back into dates
for date-typed fields on load.

**Journal.**
Optionally, every committed change is appended to a checksummed journal file
(see package journal).
*/
package schemadb
