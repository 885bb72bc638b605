package dimse

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/trobanga/siphon/internal/models"
)

// Command group tags. These live in group 0000 and are not part of the
// standard data dictionary, so they are declared here.
var (
	tagAffectedSOPClassUID       = tag.Tag{Group: 0x0000, Element: 0x0002}
	tagCommandField              = tag.Tag{Group: 0x0000, Element: 0x0100}
	tagMessageID                 = tag.Tag{Group: 0x0000, Element: 0x0110}
	tagMessageIDBeingRespondedTo = tag.Tag{Group: 0x0000, Element: 0x0120}
	tagMoveDestination           = tag.Tag{Group: 0x0000, Element: 0x0600}
	tagCommandDataSetType        = tag.Tag{Group: 0x0000, Element: 0x0800}
	tagStatus                    = tag.Tag{Group: 0x0000, Element: 0x0900}
	tagAffectedSOPInstanceUID    = tag.Tag{Group: 0x0000, Element: 0x1000}
	tagRemainingSubOps           = tag.Tag{Group: 0x0000, Element: 0x1020}
	tagCompletedSubOps           = tag.Tag{Group: 0x0000, Element: 0x1021}
	tagFailedSubOps              = tag.Tag{Group: 0x0000, Element: 0x1022}
	tagWarningSubOps             = tag.Tag{Group: 0x0000, Element: 0x1023}
)

// Command field values
const (
	CommandCStoreRQ  uint16 = 0x0001
	CommandCStoreRSP uint16 = 0x8001
	CommandCMoveRQ   uint16 = 0x0021
	CommandCMoveRSP  uint16 = 0x8021
)

// CommandDataSetType values: anything other than null means a data set
// PDU follows the command set.
const (
	dataSetPresent uint16 = 0x0102
	dataSetNull    uint16 = 0x0101
)

// Secondary capture SOP class, announced for instances whose data set
// carries no SOP class of its own. Carried through on stores but never
// enforced.
const sopClassSecondaryCapture = "1.2.840.10008.5.1.4.1.1.7"

// Message is a parsed command set
type Message struct {
	CommandField        uint16
	MessageID           uint16
	RespondingTo        uint16
	Status              uint16
	HasDataSet          bool
	MoveDestination     string
	AffectedSOPClass    string
	AffectedSOPInstance string

	// Sub-operation counters, meaningful on move responses only
	Remaining uint16
	Completed uint16
	Failed    uint16
	Warnings  uint16
}

// ParseMessage decodes a command set from raw dataset bytes
func ParseMessage(data []byte) (*Message, error) {
	ds, err := DecodeDataset(data)
	if err != nil {
		return nil, fmt.Errorf("decode command set: %w", err)
	}

	cmd, ok := ds.Uint16(tagCommandField)
	if !ok {
		return nil, fmt.Errorf("command set is missing CommandField")
	}

	msg := &Message{CommandField: cmd}
	msg.MessageID, _ = ds.Uint16(tagMessageID)
	msg.RespondingTo, _ = ds.Uint16(tagMessageIDBeingRespondedTo)
	msg.Status, _ = ds.Uint16(tagStatus)
	msg.MoveDestination = ds.String(tagMoveDestination)
	msg.AffectedSOPClass = ds.String(tagAffectedSOPClassUID)
	msg.AffectedSOPInstance = ds.String(tagAffectedSOPInstanceUID)
	msg.Remaining, _ = ds.Uint16(tagRemainingSubOps)
	msg.Completed, _ = ds.Uint16(tagCompletedSubOps)
	msg.Failed, _ = ds.Uint16(tagFailedSubOps)
	msg.Warnings, _ = ds.Uint16(tagWarningSubOps)

	dst, ok := ds.Uint16(tagCommandDataSetType)
	msg.HasDataSet = ok && dst != dataSetNull

	return msg, nil
}

// buildCMoveRQ builds the command set asking the peer to push a study
// to the given destination address
func buildCMoveRQ(messageID uint16, destination string) []byte {
	ds := &Dataset{}
	ds.Add(Uint16Element(tagCommandField, CommandCMoveRQ))
	ds.Add(Uint16Element(tagMessageID, messageID))
	ds.Add(StringElement(tagMoveDestination, destination))
	ds.Add(Uint16Element(tagCommandDataSetType, dataSetPresent))
	return ds.Encode()
}

// buildCMoveRSP builds a move response carrying status and counters
func buildCMoveRSP(respondingTo uint16, status uint16, remaining, completed, failed, warnings uint16) []byte {
	ds := &Dataset{}
	ds.Add(Uint16Element(tagCommandField, CommandCMoveRSP))
	ds.Add(Uint16Element(tagMessageIDBeingRespondedTo, respondingTo))
	ds.Add(Uint16Element(tagCommandDataSetType, dataSetNull))
	ds.Add(Uint16Element(tagStatus, status))
	ds.Add(Uint16Element(tagRemainingSubOps, remaining))
	ds.Add(Uint16Element(tagCompletedSubOps, completed))
	ds.Add(Uint16Element(tagFailedSubOps, failed))
	ds.Add(Uint16Element(tagWarningSubOps, warnings))
	return ds.Encode()
}

// buildCStoreRQ builds the command set announcing one instance
func buildCStoreRQ(messageID uint16, sopClassUID, sopInstanceUID string) []byte {
	ds := &Dataset{}
	ds.Add(StringElement(tagAffectedSOPClassUID, sopClassUID))
	ds.Add(Uint16Element(tagCommandField, CommandCStoreRQ))
	ds.Add(Uint16Element(tagMessageID, messageID))
	ds.Add(Uint16Element(tagCommandDataSetType, dataSetPresent))
	ds.Add(StringElement(tagAffectedSOPInstanceUID, sopInstanceUID))
	return ds.Encode()
}

// buildCStoreRSP acknowledges one stored instance
func buildCStoreRSP(respondingTo uint16, status uint16, sopInstanceUID string) []byte {
	ds := &Dataset{}
	ds.Add(Uint16Element(tagCommandField, CommandCStoreRSP))
	ds.Add(Uint16Element(tagMessageIDBeingRespondedTo, respondingTo))
	ds.Add(Uint16Element(tagCommandDataSetType, dataSetNull))
	ds.Add(Uint16Element(tagStatus, status))
	ds.Add(StringElement(tagAffectedSOPInstanceUID, sopInstanceUID))
	return ds.Encode()
}

// FormatDestination encodes a receiving endpoint as "AET@host:port" for
// the MoveDestination field
func FormatDestination(aeTitle, addr string) string {
	return aeTitle + "@" + addr
}

// ParseDestination splits a MoveDestination value into AE title and address
func ParseDestination(dest string) (aeTitle, addr string, err error) {
	at := strings.IndexByte(dest, '@')
	if at <= 0 || at == len(dest)-1 {
		return "", "", fmt.Errorf("malformed move destination %q, want AET@host:port", dest)
	}
	return dest[:at], dest[at+1:], nil
}

// buildMoveIdentifier builds the study-level data set for a move request
func buildMoveIdentifier(studyUID string) []byte {
	ds := &Dataset{}
	ds.Add(StringElement(tag.QueryRetrieveLevel, "STUDY"))
	ds.Add(StringElement(tag.StudyInstanceUID, studyUID))
	return ds.Encode()
}

// parseMoveIdentifier extracts the study UID from a move request data set
func parseMoveIdentifier(data []byte) (studyUID string, err error) {
	ds, err := DecodeDataset(data)
	if err != nil {
		return "", fmt.Errorf("decode move identifier: %w", err)
	}

	studyUID = ds.String(tag.StudyInstanceUID)
	if studyUID == "" {
		return "", fmt.Errorf("move identifier is missing StudyInstanceUID")
	}
	return studyUID, nil
}

// BuildInstanceDataset assembles a storable instance data set from identity
// fields and payload bytes. Used by the sending side and by tests.
func BuildInstanceDataset(patientID, studyUID, seriesUID, sopUID string, pixelData []byte) []byte {
	ds := &Dataset{}
	ds.Add(StringElement(tag.SOPClassUID, sopClassSecondaryCapture))
	ds.Add(StringElement(tag.SOPInstanceUID, sopUID))
	ds.Add(StringElement(tag.PatientID, patientID))
	ds.Add(StringElement(tag.StudyInstanceUID, studyUID))
	ds.Add(StringElement(tag.SeriesInstanceUID, seriesUID))
	ds.Add(Element{Tag: tag.PixelData, Value: pixelData})
	return ds.Encode()
}

// ParseInstance extracts identity fields from a received data set.
// The raw bytes are kept verbatim; they are what lands on disk.
func ParseInstance(data []byte) (models.Instance, error) {
	ds, err := DecodeDataset(data)
	if err != nil {
		return models.Instance{}, fmt.Errorf("decode instance data set: %w", err)
	}

	inst := models.Instance{
		PatientID: ds.String(tag.PatientID),
		StudyUID:  ds.String(tag.StudyInstanceUID),
		SeriesUID: ds.String(tag.SeriesInstanceUID),
		SOPUID:    ds.String(tag.SOPInstanceUID),
		Data:      data,
	}

	if err := inst.Validate(); err != nil {
		return models.Instance{}, err
	}
	return inst, nil
}
