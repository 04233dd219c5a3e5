package driver

// unifiedScript is the on-device reassembly script pushed as unified.sh.
// It is adapted from the original implementation's generated
// unified-reassemble.sh (which only concatenated chunk files), extended
// to also extract bundle_batch*.zip archives into batch/ so Variant A
// needs no separate host-side extraction round-trip, and to read our
// chunk_metadata.json field names (original_rel_path, num_chunks).
const unifiedScript = `#!/system/bin/sh
# Reassembles chunked files and extracts bundled archives under a transfer
# temp directory, then writes a completion marker. Exits nonzero and never
# writes the marker on any failure.

REMOTE_TEMP="$1"
if [ -z "$REMOTE_TEMP" ]; then
    REMOTE_TEMP="$(pwd)"
fi
cd "$REMOTE_TEMP" || exit 1

FAILED=0

CHUNK_DIRS=$(find "$REMOTE_TEMP" -type d -name "*_chunks" 2>/dev/null | sort)
for CHUNK_DIR in $CHUNK_DIRS; do
    METADATA_FILE="$CHUNK_DIR/chunk_metadata.json"
    if [ ! -f "$METADATA_FILE" ]; then
        FAILED=1
        continue
    fi

    ORIGINAL_REL_PATH=$(grep -o '"original_rel_path"[[:space:]]*:[[:space:]]*"[^"]*"' "$METADATA_FILE" | sed 's/.*"original_rel_path"[[:space:]]*:[[:space:]]*"\([^"]*\)".*/\1/')
    NUM_CHUNKS=$(grep -o '"num_chunks"[[:space:]]*:[[:space:]]*[0-9]*' "$METADATA_FILE" | sed 's/.*:[[:space:]]*//')

    if [ -z "$ORIGINAL_REL_PATH" ] || [ -z "$NUM_CHUNKS" ]; then
        FAILED=1
        continue
    fi

    ORIGINAL_NAME=$(basename "$ORIGINAL_REL_PATH")
    CHUNK_PARENT=$(dirname "$CHUNK_DIR")
    OUTPUT_FILE="$CHUNK_PARENT/$ORIGINAL_NAME"
    rm -f "$OUTPUT_FILE"

    IDX=0
    OK=1
    while [ "$IDX" -lt "$NUM_CHUNKS" ]; do
        CHUNK_FILE=$(printf "%s/chunk_%04d.bin" "$CHUNK_DIR" "$IDX")
        if [ ! -f "$CHUNK_FILE" ]; then
            OK=0
            break
        fi
        cat "$CHUNK_FILE" >> "$OUTPUT_FILE" 2>/dev/null
        if [ $? -ne 0 ]; then
            OK=0
            break
        fi
        IDX=$((IDX + 1))
    done

    if [ "$OK" -eq 1 ] && [ -f "$OUTPUT_FILE" ]; then
        rm -rf "$CHUNK_DIR"
    else
        FAILED=1
        rm -f "$OUTPUT_FILE" 2>/dev/null
    fi
done

HAVE_BUNDLES=0
for BUNDLE in "$REMOTE_TEMP"/bundle_batch*.zip; do
    [ -e "$BUNDLE" ] || continue
    HAVE_BUNDLES=1
    mkdir -p "$REMOTE_TEMP/batch"
    unzip -o -q "$BUNDLE" -d "$REMOTE_TEMP/batch"
    if [ $? -ne 0 ]; then
        FAILED=1
    fi
done

if [ "$FAILED" -eq 0 ]; then
    echo "ok" > "$REMOTE_TEMP/.reassembly_complete"
    exit 0
fi

exit 1
`

// UnifiedScript returns the reassembly script body, ready to push as
// unified.sh and invoke with the remote temp directory as its sole
// argument.
func UnifiedScript() string {
	return unifiedScript
}
