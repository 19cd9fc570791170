package descriptions

// Tool descriptions with practical examples and use cases

const (
	// Session Tools
	PDFSessionOpenDescription = `Open a viewing session over a PDF and render its first page.

**When to use:** Before drawing on, signing, printing or exporting a document.

**What it does:** Loads the document from the document directory (path) or from the document store (document_id), validates it, fits page 1 into the container and returns a session_id with a PNG preview.

**Examples:**
• Sign a crew time report: "Open CTR_2025-07-01_C69.pdf so I can sign it"
• Re-open a stored document: "Open document 5f0c8c7e-... in a 612x792 container"

**Common workflows:**
1. Signing: pdf_session_open → pdf_draw_mode(on) → pdf_stroke ... → pdf_save
2. Printing: pdf_session_open → pdf_print
3. Review only: pdf_session_open with editable=false

**Best practices:** Pass crew and date when known so exports get a descriptive file name. Close sessions you no longer need.`

	PDFSessionCloseDescription = `Close a viewing session and release its document and rasters.

**When to use:** When you are done with a session. Work still in flight for the session is discarded.`

	PDFRenderDescription = `Re-render page 1 of a session, optionally into a new container size.

**When to use:** After the display area changes size. Rendering clears all strokes.

**Best practices:** Render before drawing if the container changed; strokes made against the old size are lost on re-render.`

	PDFDrawModeDescription = `Turn drawing mode on or off for a session.

**When to use:** Strokes are ignored while drawing mode is off. Turn it on before pdf_stroke and off when finished.`

	PDFStrokeDescription = `Paint one freehand stroke onto the annotation layer of a session.

**When to use:** To sign or mark up the rendered page.

**Coordinates:** Points are buffer pixels of the rendered raster by default. Pass display {left, top, width, height} to give points in client coordinates of the displayed image; they are mapped into buffer pixels per point.

**Examples:**
• Signature line: points [{x:120,y:700},{x:140,y:690},{x:170,y:705}] with color "#000080" and width 2
• Tick mark: a single point paints a dot

**Best practices:** Color and width apply to this and later strokes only. Width is clamped to 1..10.`

	PDFClearDescription = `Remove every stroke from the annotation layer of a session. The page itself is untouched. Clearing twice is harmless.`

	PDFSaveDescription = `Burn the annotation layer into the PDF and store the signed copy.

**What it does:** Embeds the strokes as an image overlay on page 1 of the original document, stores the result in the document store and returns its document_id together with a PNG preview.

**Best practices:** If saving fails the previously signed copy is kept. Use pdf_download to export the signed document as a file.`

	PDFPrintDescription = `Print page 1 of a session at print resolution, strokes included.

**What it does:** Re-renders the page at the configured print scale, submits it to the print spool and restores the on-screen view afterwards, even when printing fails.`

	PDFDownloadDescription = `Export the current document of a session to the download directory.

**What it does:** Writes the signed copy if one has been saved, otherwise the document as loaded. The file name is built from crew and date (CTR_<date>_<crew>_<fire>_<number>.pdf), or signed_document.pdf when those are unknown.`

	PDFFillFormDescription = `Fill the crew time report form from row data and verify the result.

**When to use:** To produce a CTR PDF from crew member rows.

**What it does:** Maps rows and crew info to form fields, writes each field and reads it back (retrying up to the configured number of attempts), resolves classification fields under their alternate names, stores the filled PDF and reports per-field results and a verification sweep of the classification column.

**Examples:**
• "Fill the CTR for crew C69 on the 2025 RMA Preposition fire with these 12 members"

**Best practices:** Fields that cannot be found or do not keep their value are reported as warnings; the pass never aborts for them. Use download_immediately to also export the file.`

	PDFStorePutDescription = `Copy a PDF from the document directory into the document store and return its document_id.

**When to use:** To hand a document to sessions or fill passes by id instead of path.`

	PDFServerInfoDescription = `Get server information, configuration and the PDFs available in the document directory.

**When to use:** At the start of a conversation to discover documents and capabilities.

**Best practices:** Directory listings are cached for five minutes and limited to 100 files.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	"pdf_session_open":  PDFSessionOpenDescription,
	"pdf_session_close": PDFSessionCloseDescription,
	"pdf_render":        PDFRenderDescription,
	"pdf_draw_mode":     PDFDrawModeDescription,
	"pdf_stroke":        PDFStrokeDescription,
	"pdf_clear":         PDFClearDescription,
	"pdf_save":          PDFSaveDescription,
	"pdf_print":         PDFPrintDescription,
	"pdf_download":      PDFDownloadDescription,
	"pdf_fill_form":     PDFFillFormDescription,
	"pdf_store_put":     PDFStorePutDescription,
	"pdf_server_info":   PDFServerInfoDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns a list of all available tool names
func GetAllToolNames() []string {
	var names []string
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	return names
}
