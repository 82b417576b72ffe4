package classifier

import "fmt"

func presencePrompt(timestamp string) string {
	return fmt.Sprintf(`You are looking at one frame from a garbage truck's dashcam, taken at %s.

Decide whether any trash or recycling bins waiting for pickup are visible.

Bins usually stand upright at the side of the road, often in the bottom-left or bottom-right of the frame, close to the truck.

Ignore the truck's own collection equipment: the front hopper, the lifting arm, and any container that is already in the air or inside the truck.

Be inclusive: answer true if any roadside bin is visible, even partially or at a distance.

Reply with JSON only, in exactly this shape:
{ "binsPresent": true or false, "reason": "short explanation" }`, timestamp)
}

const issuePrompt = `This dashcam frame shows at least one trash or recycling bin. Focus on the bins at the side of the road.

Report an issue only when it is clear and visible:

1. "inaccessible": the bin cannot be picked up. It is blocked by other bins, cars, objects or a fence, or it faces the wrong way with the handles turned away from the truck.
2. "overflowing": the lid is propped open by trash, or extra waste is piled around the bin. Do not mistake the truck's own front holder or arm for a bin.
3. "safety": a hazard from the driver's point of view, such as a person near the road or an object blocking the truck's path. The truck's own equipment is never an obstruction.
4. "other": any other clearly unusual situation.

Reply with JSON only, in exactly this shape:
{ "eventFound": "inaccessible" | "overflowing" | "safety" | "other" | null, "reason": "short explanation" }`
