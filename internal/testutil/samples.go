package testutil

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DXF is an ASCII drawing with two layers, a title block insert, free text
// and a dimension.
var DXF = strings.Join([]string{
	"0", "SECTION", "2", "HEADER",
	"9", "$ACADVER", "1", "AC1032",
	"0", "ENDSEC",
	"0", "SECTION", "2", "TABLES",
	"0", "TABLE", "2", "LAYER",
	"0", "LAYER", "2", "A-WALL",
	"0", "LAYER", "2", "A-DOOR",
	"0", "ENDTAB",
	"0", "ENDSEC",
	"0", "SECTION", "2", "ENTITIES",
	"0", "TEXT", "8", "A-WALL", "1", "GROUND FLOOR PLAN",
	"0", "MTEXT", "8", "A-WALL", "1", `{\fArial|b0;Blockwork wall\P200mm thick}`,
	"0", "INSERT", "2", "TITLEBLOCK", "8", "0",
	"0", "ATTRIB", "2", "DWG_NO", "1", "A-101",
	"0", "ATTRIB", "2", "REV", "1", "C",
	"0", "ATTRIB", "2", "TITLE", "1", "Ground Floor Layout",
	"0", "SEQEND",
	"0", "DIMENSION", "8", "A-DIM", "42", "3600.0",
	"0", "ENDSEC",
	"0", "EOF",
}, "\n") + "\n"

// IFC is a STEP model with a project, a wall carrying a property set, a
// quantity and a material, and a door.
const IFC = `ISO-10303-21;
HEADER;
FILE_DESCRIPTION(('ViewDefinition [CoordinationView]'),'2;1');
FILE_NAME('tower.ifc','2024-03-01T10:00:00',('Architect'),('Studio'),'IfcOpenShell','Revit 2024','');
FILE_SCHEMA(('IFC4'));
ENDSEC;
DATA;
#1=IFCPROJECT('0YvctVUKr0kugbFTf53O9L',$,'Tower A','Residential tower',$,$,$,$,$);
#10=IFCWALL('2O2Fr$t4X7Zf8NOew3FLOH',$,'Core Wall',$,$,$,$,'W-01',$);
#11=IFCDOOR('1hOSvn6df7F8_7GcBWlRGQ',$,'Fire Door',$,$,$,$,'D-01',$,$,$,$,$);
#20=IFCPROPERTYSINGLEVALUE('FireRating',$,IFCLABEL('2HR'),$);
#21=IFCPROPERTYSINGLEVALUE('IsExternal',$,IFCBOOLEAN(.F.),$);
#22=IFCPROPERTYSET('3ZYW59sxj8lei475l7EhLU',$,'Pset_WallCommon',$,(#20,#21));
#23=IFCRELDEFINESBYPROPERTIES('1_dw$1jgj8pOQdUCX7xDxN',$,$,$,(#10),#22);
#30=IFCQUANTITYAREA('NetSideArea',$,$,42.5,$);
#31=IFCELEMENTQUANTITY('2Bz9K2HkX3mB1lKX1qQvQn',$,'Qto_WallBaseQuantities',$,$,(#30));
#32=IFCRELDEFINESBYPROPERTIES('0mN2QbZtH5Vh3fTsn1x3kQ',$,$,$,(#10),#31);
#40=IFCMATERIAL('Concrete C40',$,$);
#41=IFCRELASSOCIATESMATERIAL('3sR6Zb0Hz0xQ8dXr9mXn3P',$,$,$,(#10),#40);
#50=IFCBUILDINGSTOREY('0uhB8RsnX8ZfC9GR3W4EXS',$,'Level 1',$,$,$,$,$,.ELEMENT.,0.);
ENDSEC;
END-ISO-10303-21;
`

// XER is a Primavera export with one project, two WBS nodes, three
// activities and a resource.
var XER = strings.Join([]string{
	"ERMHDR\t19.12\t2024-02-01\tProject\tadmin\tAdmin\tdbxDatabaseNoName\tProject Management\tUSD",
	"%T\tPROJECT",
	"%F\tproj_id\tproj_short_name\tplan_start_date\tplan_end_date",
	"%R\t100\tTWR-A\t2024-03-01 08:00\t2025-06-30 17:00",
	"%T\tPROJWBS",
	"%F\twbs_id\tproj_id\twbs_short_name\twbs_name\tparent_wbs_id\tproj_node_flag",
	"%R\t1\t100\tTWR-A\tTower A Construction\t\tY",
	"%R\t2\t100\tSUB\tSubstructure\t1\tN",
	"%T\tTASK",
	"%F\ttask_id\tproj_id\twbs_id\ttask_code\ttask_name\ttarget_start_date\ttarget_end_date\ttarget_drtn_hr_cnt\tstatus_code",
	"%R\t1000\t100\t2\tA1000\tExcavation\t2024-03-01 08:00\t2024-03-20 17:00\t120\tTK_NotStart",
	"%R\t1010\t100\t2\tA1010\tPiling\t2024-03-21 08:00\t2024-04-30 17:00\t240.0\tTK_NotStart",
	"%R\t1020\t100\t2\tA1020\tRaft foundation\t2024-05-01 08:00\t2024-05-31 17:00\t176\tTK_NotStart",
	"%T\tRSRC",
	"%F\trsrc_id\trsrc_name\trsrc_type",
	"%R\t7\tExcavator\tRT_Equip",
	"%E",
}, "\r\n") + "\r\n"

// MailAttachment is an attachment of an EML built by EML.
type MailAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// EML builds a message with a text body and base64 attachments. Without
// attachments the message is a single text/plain part.
func EML(subject, body string, attachments ...MailAttachment) []byte {
	const boundary = "==tender-boundary=="
	var b strings.Builder
	b.WriteString("From: Procurement <tenders@client.example>\r\n")
	b.WriteString("To: Estimating <bids@contractor.example>\r\n")
	b.WriteString("Cc: Planning <planning@contractor.example>\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Date: Mon, 04 Mar 2024 09:30:00 +0400\r\n")
	b.WriteString("Message-ID: <itt-042@client.example>\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	if len(attachments) == 0 {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(body + "\r\n")
		return []byte(b.String())
	}
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=\"%s\"\r\n\r\n", boundary)
	fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, body)
	for _, a := range attachments {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		fmt.Fprintf(&b, "Content-Type: %s; name=\"%s\"\r\n", a.ContentType, a.Filename)
		fmt.Fprintf(&b, "Content-Disposition: attachment; filename=\"%s\"\r\n", a.Filename)
		b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
		enc := base64.StdEncoding.EncodeToString(a.Data)
		for len(enc) > 76 {
			b.WriteString(enc[:76] + "\r\n")
			enc = enc[76:]
		}
		b.WriteString(enc + "\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}

// Words returns n space separated words cycling through a construction
// vocabulary.
func Words(n int) string {
	vocab := []string{"concrete", "rebar", "formwork", "excavation", "piling", "waterproofing",
		"blockwork", "plaster", "screed", "ductwork", "cabling", "glazing", "cladding", "roofing"}
	out := make([]string, n)
	for i := range out {
		out[i] = vocab[i%len(vocab)]
	}
	return strings.Join(out, " ")
}
