package nvm

// Stats summarizes a table's partition usage. Table.Stats builds a
// fresh value on every call and never sets ReplicaMismatches, so it
// always reads 0 (MemFlash and FileFlash don't expose per-read
// majority-vote diagnostics).
type Stats struct {
	NumPartitions     int
	BlockSize         int
	BytesUsed         int
	BytesFree         int
	ReplicaMismatches uint32
}

// Stats reports current partition usage for this table.
func (t *Table) Stats() Stats {
	used := t.dataBase
	for _, d := range t.descs {
		end := d.startOffset + d.size
		if end > used {
			used = end
		}
	}
	return Stats{
		NumPartitions: t.numParts,
		BlockSize:     t.flash.Size(),
		BytesUsed:     used,
		BytesFree:     t.flash.Size() - used,
	}
}
