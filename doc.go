// Package strata provides a columnar time-series storage core: tables stored
// as one memory-mapped, fixed-width file per column, a single-writer append
// and commit path, per-column compression into checksummed artifacts, and
// parallel filtered sum scans over committed rows.
//
// # Key Packages
//
//   - pkg/mmap: memory-mapped regions with grow, sync and page-cache advice
//   - pkg/column: fixed-width column files, readers and the element types
//   - pkg/table: catalog, table metadata, the writer and column compression
//   - pkg/compression: block codecs (LZ4, zstd, S2, Snappy, gzip, deflate)
//   - pkg/scan: the parallel filtered sum aggregator
//   - pkg/rwlock: reader-writer locks tuned for read-dominated metadata
//   - pkg/txn: the scoreboard that keeps pinned snapshots' files alive
//   - pkg/config, pkg/logger, pkg/metrics, pkg/observability: ambient stack
//
// # Quick Start
//
//	c, err := table.NewCatalog("/var/lib/strata", table.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	tbl, err := c.Create("trades", []table.ColumnDef{
//		{Name: "sym", Type: column.TypeInt},
//		{Name: "price", Type: column.TypeLong},
//	})
//	if err != nil {
//		return err
//	}
//	w, err := tbl.NewWriter()
//	if err != nil {
//		return err
//	}
//	defer w.Close()
//	if err := w.NewRow().PutInt(0, 7).PutLong(1, 1025).Append(); err != nil {
//		return err
//	}
//	if err := w.Commit(); err != nil {
//		return err
//	}
//
//	agg, err := scan.NewAggregator(tbl, nil)
//	if err != nil {
//		return err
//	}
//	defer agg.Close()
//	res, err := agg.Scan(ctx, scan.Request{
//		Columns:         []string{"price"},
//		PredicateColumn: "sym",
//		PredicateValue:  7,
//		RowCount:        scan.AllCommitted,
//	})
//
// # Command Line
//
// cmd/strata runs the TSBS ingest and scan workload and the lock benchmark:
//
//	strata tsbs --rows 10000000 --compress
//	strata lockbench --ratios 1000,10000,100000
//
// Configuration is read from a YAML file (--config), STRATA_* environment
// variables and flags, in increasing precedence.
package strata
